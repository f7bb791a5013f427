package topology

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"
)

// CDFPoint is one point of a latency cumulative distribution function:
// "a fraction `Fraction` of samples are at or below `Value`". Points
// must be supplied in non-decreasing Fraction order ending at 1.0; this
// is the sampling contract consumed by the link model, independent of
// whatever file format produced the points (out of core scope, per
// spec.md §1).
type CDFPoint struct {
	Value    time.Duration
	Fraction float64
}

// CDF is an invertible latency distribution: given a uniform draw in
// [0,1), it returns a sampled delay.
type CDF struct {
	points []CDFPoint
}

// NewCDF builds a CDF from explicit points, as read from a CDF file by
// an external loader. Points are sorted by Fraction defensively.
func NewCDF(points []CDFPoint) (*CDF, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("topology: CDF needs at least one point")
	}
	cp := make([]CDFPoint, len(points))
	copy(cp, points)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Fraction < cp[j].Fraction })
	if cp[len(cp)-1].Fraction < 1.0 {
		return nil, fmt.Errorf("topology: CDF must reach fraction 1.0, got %f", cp[len(cp)-1].Fraction)
	}
	return &CDF{points: cp}, nil
}

// Constant returns a degenerate CDF that always samples the same delay,
// used by topologies that declare a fixed per-link latency.
func Constant(d time.Duration) *CDF {
	return &CDF{points: []CDFPoint{{Value: d, Fraction: 1.0}}}
}

// GenerateCDF builds a CDF from the generative center/width/tail form
// accepted by the topology grammar (spec.md §6). `center` is the
// median delay, `width` bounds typical deviation around the center, and
// `tail` is an upper delay occasionally sampled to model long-tail
// network jitter. This is a simplified, documented approximation of
// the original tool's histogram generator: 90% of the mass is a
// uniform spread across [center-width, center+width] (clamped at 0),
// and the remaining 10% ramps linearly up to `tail`.
func GenerateCDF(center, width, tail time.Duration) (*CDF, error) {
	if center <= 0 {
		return nil, fmt.Errorf("topology: CDF center must be positive")
	}
	lo := center - width
	if lo < 0 {
		lo = 0
	}
	hi := center + width
	if tail < hi {
		tail = hi
	}

	points := []CDFPoint{
		{Value: lo, Fraction: 0.0},
		{Value: hi, Fraction: 0.90},
		{Value: tail, Fraction: 1.0},
	}
	return NewCDF(points)
}

// Min returns the smallest delay the CDF can ever produce; it is used
// to derive the engine's conservative Δmin barrier.
func (c *CDF) Min() time.Duration {
	return c.points[0].Value
}

// Sample draws u from Uniform(0,1) using r and inverts the CDF via
// linear interpolation between the bracketing points.
func (c *CDF) Sample(r *rand.Rand) time.Duration {
	u := r.Float64()

	prev := c.points[0]
	if u <= prev.Fraction {
		return prev.Value
	}
	for _, p := range c.points[1:] {
		if u <= p.Fraction {
			if p.Fraction == prev.Fraction {
				return p.Value
			}
			frac := (u - prev.Fraction) / (p.Fraction - prev.Fraction)
			return prev.Value + time.Duration(frac*float64(p.Value-prev.Value))
		}
		prev = p
	}
	return prev.Value
}
