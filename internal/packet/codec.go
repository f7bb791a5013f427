package packet

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// ToWire serializes p into a real Ethernet/IPv4/TCP(or UDP) byte
// stream using gopacket, the same library the teacher reaches for
// wherever it needs to build or inspect real wire bytes. This gives
// tests a real, tcpdump-inspectable wire format that FromWire parses
// back, instead of an opaque internal-only struct.
func (p *Packet) ToWire() ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	eth := &layers.Ethernet{EthernetType: layers.EthernetTypeIPv4}
	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    p.Header.SrcIP.AsSlice(),
		DstIP:    p.Header.DstIP.AsSlice(),
		Protocol: protocolNumber(p.Header.Protocol),
	}

	var transport gopacket.SerializableLayer
	switch p.Header.Protocol {
	case ProtocolTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(p.Header.SrcPort),
			DstPort: layers.TCPPort(p.Header.DstPort),
			Seq:     p.Header.Seq,
			Ack:     p.Header.Ack,
			Window:  p.Header.Window,
			SYN:     p.Header.Flags.Has(FlagSYN),
			ACK:     p.Header.Flags.Has(FlagACK),
			FIN:     p.Header.Flags.Has(FlagFIN),
			RST:     p.Header.Flags.Has(FlagRST),
		}
		if err := tcp.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, fmt.Errorf("packet: set checksum network layer: %w", err)
		}
		transport = tcp
	case ProtocolUDP:
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(p.Header.SrcPort),
			DstPort: layers.UDPPort(p.Header.DstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, fmt.Errorf("packet: set checksum network layer: %w", err)
		}
		transport = udp
	default:
		return nil, fmt.Errorf("packet: unknown protocol %d", p.Header.Protocol)
	}

	layersToSerialize := []gopacket.SerializableLayer{eth, ip4, transport}
	if len(p.Payload) > 0 {
		layersToSerialize = append(layersToSerialize, gopacket.Payload(p.Payload))
	}

	if err := gopacket.SerializeLayers(buf, opts, layersToSerialize...); err != nil {
		return nil, fmt.Errorf("packet: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

// FromWire parses a raw Ethernet frame produced by ToWire back into a
// Packet with a fresh refcount of 1.
func FromWire(data []byte) (*Packet, error) {
	gp := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	if errLayer := gp.ErrorLayer(); errLayer != nil {
		return nil, fmt.Errorf("packet: parse: %w", errLayer.Error())
	}

	ipLayer := gp.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, fmt.Errorf("packet: no IPv4 layer")
	}
	ip4, _ := ipLayer.(*layers.IPv4)

	srcIP, ok := netip.AddrFromSlice(ip4.SrcIP)
	if !ok {
		return nil, fmt.Errorf("packet: invalid source IP")
	}
	dstIP, ok := netip.AddrFromSlice(ip4.DstIP)
	if !ok {
		return nil, fmt.Errorf("packet: invalid destination IP")
	}

	hdr := Header{SrcIP: srcIP.Unmap(), DstIP: dstIP.Unmap()}
	var payload []byte

	if tcpLayer := gp.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp, _ := tcpLayer.(*layers.TCP)
		hdr.Protocol = ProtocolTCP
		hdr.SrcPort = uint16(tcp.SrcPort)
		hdr.DstPort = uint16(tcp.DstPort)
		hdr.Seq = tcp.Seq
		hdr.Ack = tcp.Ack
		hdr.Window = tcp.Window
		if tcp.SYN {
			hdr.Flags |= FlagSYN
		}
		if tcp.ACK {
			hdr.Flags |= FlagACK
		}
		if tcp.FIN {
			hdr.Flags |= FlagFIN
		}
		if tcp.RST {
			hdr.Flags |= FlagRST
		}
		payload = tcp.Payload
	} else if udpLayer := gp.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, _ := udpLayer.(*layers.UDP)
		hdr.Protocol = ProtocolUDP
		hdr.SrcPort = uint16(udp.SrcPort)
		hdr.DstPort = uint16(udp.DstPort)
		payload = udp.Payload
	} else {
		return nil, fmt.Errorf("packet: no TCP or UDP layer")
	}

	return New(hdr, payload), nil
}

func protocolNumber(p Protocol) layers.IPProtocol {
	switch p {
	case ProtocolTCP:
		return layers.IPProtocolTCP
	case ProtocolUDP:
		return layers.IPProtocolUDP
	default:
		return layers.IPProtocolTCP
	}
}
