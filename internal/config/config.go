// Package config holds the engine's own run configuration (worker
// count, minimum cross-host time jump, seed, logging) and the ordered
// bootstrap action list produced by parsing a topology document
// (spec.md §6). Mirrors the teacher's coordinator/cfg.go shape:
// DefaultConfig() base, overridable from a YAML file, composed with
// CLI flags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config is the engine's run configuration, the Go analogue of
// spec.md §4.1's recognized options.
type Config struct {
	// WorkerThreads is the size of the worker pool (N >= 1).
	WorkerThreads int `yaml:"workerThreads"`
	// MinTimeJump floors the conservative barrier's Δmin so a
	// zero-latency link configuration can never violate the protocol.
	MinTimeJump time.Duration `yaml:"minTimeJump"`
	// Seed is the global determinism seed; every host's private RNG is
	// derived from (Seed, hostID).
	Seed uint64 `yaml:"seed"`
	// LogLevel is a level name zapcore.ParseLevel accepts (debug, info,
	// warn, error, dpanic, panic, fatal); the names critical, warning and
	// message are rejected.
	LogLevel string `yaml:"logLevel"`
	// Verbose is loaded from the YAML file but nothing reads it, and the
	// CLI has no flag for it (`-v` prints the version — see cmd/shadow).
	Verbose bool `yaml:"verbose"`
	// KillTime stops the simulation once the global clock passes it.
	KillTime time.Duration `yaml:"killTime"`
	// TopologyFiles are the positional XML topology documents, executed
	// in the order given, each in file order (spec.md §6).
	TopologyFiles []string `yaml:"-"`
}

// DefaultConfig returns the engine's baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		WorkerThreads: 1,
		MinTimeJump:   1 * time.Millisecond,
		Seed:          0xC0FFEE,
		LogLevel:      "info",
		KillTime:      60 * time.Second,
	}
}

// LoadConfig loads a YAML run-configuration file over DefaultConfig's
// baseline, the same merge-over-defaults shape as the teacher's
// coordinator.LoadConfig. An empty path is not an error: the topology
// documents passed on the command line are the only required input,
// and an engine config file is optional tuning. A non-empty path that
// cannot be read or parsed is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse YAML configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration is internally consistent before
// the engine bootstraps against it.
func (c *Config) Validate() error {
	if c.WorkerThreads < 1 {
		return fmt.Errorf("config: workerThreads must be >= 1, got %d", c.WorkerThreads)
	}
	if c.MinTimeJump <= 0 {
		return fmt.Errorf("config: minTimeJump must be positive")
	}
	if len(c.TopologyFiles) == 0 {
		return fmt.Errorf("config: at least one topology file is required")
	}
	return nil
}

// Action is one bootstrap-phase instruction replayed in file order at
// engine startup (spec.md §6): load a plug-in, define a CDF, create a
// network, connect two networks with a link, or create a node (with an
// optional application to start).
type Action interface {
	isAction()
}

// LoadPluginAction corresponds to the topology `<plugin>` element.
type LoadPluginAction struct {
	Name string
	Path string
}

func (LoadPluginAction) isAction() {}

// CDFAction corresponds to the topology `<cdf>` element, either the
// explicit point-list form (out of core scope as a file format, so
// Points is populated by a caller that already parsed one) or the
// generative center/width/tail form.
type CDFAction struct {
	Name string

	// Generative form.
	Center, Width, Tail time.Duration

	// Explicit point-list form; when non-empty, takes precedence over
	// the generative fields.
	Points []CDFPointSpec
}

func (CDFAction) isAction() {}

// CDFPointSpec is one (fraction, value) pair of an explicit CDF.
type CDFPointSpec struct {
	Fraction float64
	Value    time.Duration
}

// CreateNetworkAction corresponds to the topology `<network>` element.
type CreateNetworkAction struct {
	Name                       string
	BandwidthDown, BandwidthUp datasize.ByteSize
	PacketLoss                 float64
	// CDF names the <cdf> this network uses for intra-network latency;
	// empty means a zero-latency intra-network (same-host loopback).
	CDF string
	// Subnet, if set, bounds the IP range nodes joining this network
	// may use (CIDR notation); empty means unbounded.
	Subnet string
}

func (CreateNetworkAction) isAction() {}

// ConnectNetworksAction corresponds to the topology `<link>` element,
// covering both the asymmetric a/b form and the symmetric shorthand
// (the xmlcfg loader expands the shorthand into identical AB/BA fields).
type ConnectNetworksAction struct {
	NetworkA, NetworkB   string
	LatencyAB, LatencyBA time.Duration
	// LossAB/LossBA are packet-drop probabilities (1 - reliability),
	// the form internal/topology.Internetwork.AddLink expects.
	LossAB, LossBA float64
	// CDFAB/CDFBA name a previously-defined <cdf>, taking precedence
	// over the constant Latency*B fields when set.
	CDFAB, CDFBA string
}

func (ConnectNetworksAction) isAction() {}

// CreateNodeAction corresponds to the topology `<node>` element.
// A `<node quantity="N">` element reaches the engine as N separate
// actions: the xmlcfg loader expands it, giving each copy a numbered
// name and its own IP (spec.md §6's "quantity" attribute).
type CreateNodeAction struct {
	Name                       string
	Network                    string
	IP                         string
	BandwidthDown, BandwidthUp datasize.ByteSize
	CPU                        datasize.ByteSize
	Application                *ApplicationSpec
}

func (CreateNodeAction) isAction() {}

// ApplicationSpec corresponds to the topology `<application>` element
// nested inside a node, describing the plug-in instance to start on
// that host and when.
type ApplicationSpec struct {
	Plugin     string
	Arguments  []string
	StartTime  time.Duration
	StopTime   time.Duration
}
