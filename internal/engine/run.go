package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shadow-sim/shadow/internal/event"
	"github.com/shadow-sim/shadow/internal/host"
	"github.com/shadow-sim/shadow/internal/simtime"
	"github.com/shadow-sim/shadow/internal/topology"
	"github.com/shadow-sim/shadow/internal/worker"
)

// Schedule implements worker.Router. A same-host schedule (crossHost
// false) is just a courtesy path for callers that only have a Router
// handle; a cross-host schedule must land at least Δmin past origin or
// the conservative barrier protocol is broken, which is fatal.
func (e *Engine) Schedule(origin simtime.Time, ev *event.Event, crossHost bool) {
	dst, ok := e.hosts[ev.HostID]
	if !ok {
		e.fatalf("engine: schedule: unknown destination host %d", ev.HostID)
	}
	if crossHost && ev.Time < origin.Add(e.deltaMin) {
		e.fatalf("engine: barrier violation: cross-host event at %s scheduled from %s (Δmin=%s)",
			ev.Time.Duration(), origin.Duration(), e.deltaMin)
	}
	dst.Mail(ev)
}

// LinkDelay implements worker.Router, sampling the total per-packet
// delivery delay (spec.md §4.9) for a send from srcHostID to
// dstHostID. The sampling draw is made against the sending host's
// private RNG so results stay reproducible independent of worker
// scheduling order.
func (e *Engine) LinkDelay(srcHostID, dstHostID uint64, size int) (delay time.Duration, dropped bool, err error) {
	src, ok := e.hosts[srcHostID]
	if !ok {
		return 0, false, fmt.Errorf("engine: link delay: unknown source host %d", srcHostID)
	}
	dst, ok := e.hosts[dstHostID]
	if !ok {
		return 0, false, fmt.Errorf("engine: link delay: unknown destination host %d", dstHostID)
	}

	srcNet := e.hostNetwork[srcHostID]
	dstNet := e.hostNetwork[dstHostID]
	link, ok := e.net.Link(srcNet, dstNet)
	if !ok {
		return 0, false, fmt.Errorf("engine: link delay: no route from network %q to %q", srcNet, dstNet)
	}

	sampled := link.CDF.Sample(src.RNG)
	delay = topology.TotalDelay(sampled, size, src.BandwidthUp, dst.BandwidthDown)
	return delay, link.SampleLoss(src.RNG), nil
}

// fatalf logs at DPanic level and panics; the one caller of Run that
// spans a barrier round recovers the panic via safeRunHost and turns
// it into a plain error, which Run's caller (cmd/shadow) maps to exit
// code 2 (spec.md §7).
func (e *Engine) fatalf(format string, args ...any) {
	e.log.DPanicf(format, args...)
	panic(fmt.Sprintf(format, args...))
}

// Run drives the conservative time-barrier round loop until either the
// simulation's event queues drain entirely, the configured kill time
// is reached, or ctx is cancelled. Each round advances the global clock
// by at least Δmin and runs every host's worker concurrently to that
// round's barrier; the next round's start time jumps directly to the
// earliest event still pending anywhere, skipping empty rounds.
func (e *Engine) Run(ctx context.Context) error {
	now := simtime.Time(0)

	e.log.Infow("simulation starting", "hosts", len(e.hosts), "workers", len(e.workers))
	for {
		select {
		case <-ctx.Done():
			e.log.Infow("simulation interrupted", "now", now)
			return ctx.Err()
		default:
		}

		if e.killTime.IsValid() && now >= e.killTime {
			e.log.Infow("kill time reached", "now", now.Duration())
			break
		}

		barrier := now.Add(e.deltaMin)
		if e.killTime.IsValid() && barrier > e.killTime {
			barrier = e.killTime
		}

		minNext, err := e.runRound(ctx, barrier)
		if err != nil {
			return err
		}
		if minNext == simtime.Invalid {
			e.log.Info("no events remain, stopping")
			break
		}
		if minNext <= barrier {
			return fmt.Errorf("engine: barrier violation: next event at %s did not advance past barrier %s",
				minNext.Duration(), barrier.Duration())
		}
		now = minNext
	}

	e.log.Infow("simulation complete", "now", now.Duration())
	return nil
}

// runRound fans every host out to a worker (dealt round-robin in map
// iteration order, so a host may run under a different worker from one
// round to the next — assignment never affects simulation outcome, only
// which goroutine computes it)
// and waits for the whole round to finish before returning the
// earliest time any host still has pending work.
func (e *Engine) runRound(ctx context.Context, barrier simtime.Time) (simtime.Time, error) {
	hosts := make([]*host.Host, 0, len(e.hosts))
	for _, h := range e.hosts {
		hosts = append(hosts, h)
	}

	nextTimes := make([]simtime.Time, len(hosts))

	g, _ := errgroup.WithContext(ctx)
	nw := len(e.workers)
	for i, h := range hosts {
		i, h := i, h
		wk := e.workers[i%nw]
		g.Go(func() error {
			return safeRunHost(wk, h, barrier, &nextTimes[i])
		})
	}
	if err := g.Wait(); err != nil {
		return simtime.Invalid, err
	}

	min := simtime.Invalid
	for _, t := range nextTimes {
		if t.IsValid() && (!min.IsValid() || t < min) {
			min = t
		}
	}
	return min, nil
}

// safeRunHost recovers a panic from one host's round (a barrier
// violation raised by fatalf, or any other driver bug) and turns it
// into a returned error instead of crashing the whole process, so one
// misbehaving host fails the run cleanly rather than taking down every
// other worker's goroutine with it.
func safeRunHost(wk *worker.Worker, h *host.Host, barrier simtime.Time, out *simtime.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: host %d: %v", h.ID, r)
		}
	}()
	*out = wk.RunHost(h, barrier)
	return nil
}
