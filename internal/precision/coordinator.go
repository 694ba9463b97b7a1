// Package precision decides, per view, which numerical strategy the renderer
// uses and produces the reference data compute units need to apply it.
//
// Below the perturbation threshold a float64 can still separate neighbouring
// pixels and tiles iterate directly. Past it, the coordinator computes one
// arbitrary-precision reference orbit at the view centre plus a series
// approximation, and the scheduler broadcasts both to every worker slot. Past
// the deep threshold the strategy is unchanged but the reference orbit itself
// is iterated with extra mantissa bits, since even the reference loses meaning
// at float64 precision there.
package precision

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync/atomic"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// Mode is the closed set of numerical strategies. Compute units consume it
// uniformly: they never inspect coordinate representations at runtime.
type Mode string

const (
	// ModeDirect iterates each pixel in plain float64
	ModeDirect Mode = "direct"

	// ModePerturbation iterates float64 deltas against a high-precision reference orbit
	ModePerturbation Mode = "perturbation"

	// ModeDeep is perturbation with extra reference-orbit mantissa bits
	ModeDeep Mode = "deep"
)

// Validate checks if the Mode is a valid enum value.
func (m Mode) Validate() error {
	switch m {
	case ModeDirect, ModePerturbation, ModeDeep:
		return nil
	default:
		return fmt.Errorf("unknown precision mode: %q", m)
	}
}

// UsesReference reports whether the mode needs a reference orbit broadcast
// before tasks at its zoom may dispatch.
func (m Mode) UsesReference() bool {
	return m == ModePerturbation || m == ModeDeep
}

// Plan is the coordinator's decision for one view.
type Plan struct {
	Mode         Mode    // Strategy for every tile of the view
	MantissaBits uint    // big.Float precision for the reference orbit iteration
	ZoomExponent int     // Base-2 exponent of the zoom, for diagnostics
	SeriesOrder  int     // Polynomial order for the series approximation (0 = none)
	PixelSpacing float64 // Plane distance between adjacent pixels
}

// Config holds the zoom thresholds and series parameters. Zero values take
// the documented defaults in New.
type Config struct {
	PerturbationThreshold string  // Zoom at which direct float64 iteration loses pixel resolution (default 1e13)
	DeepThreshold         string  // Zoom past which the reference orbit needs extra digits (default 1e300)
	SeriesOrder           int     // Series polynomial order, 4..8 (default 6)
	SeriesTolerance       float64 // Relative truncation error accepted from the series (default 1e-6)
}

// Coordinator selects precision modes and computes reference orbits and
// series coefficients. It is safe for concurrent use; each Prepare or Rebase
// call works on its own state and broadcasts carry a monotonic generation.
type Coordinator struct {
	perturbThreshold *big.Float
	deepThreshold    *big.Float
	seriesOrder      int
	seriesTolerance  float64

	generation atomic.Uint64
}

// Broadcast is the payload republished to all compute units when the view
// changes materially. Orbit and Series are nil in direct mode.
type Broadcast struct {
	Plan   Plan
	Orbit  *fractal.ReferenceOrbit
	Series *fractal.SeriesCoefficients
}

// New creates a Coordinator, applying defaults and parsing the thresholds.
func New(cfg Config) (*Coordinator, error) {
	if cfg.PerturbationThreshold == "" {
		cfg.PerturbationThreshold = "1e13"
	}
	if cfg.DeepThreshold == "" {
		cfg.DeepThreshold = "1e300"
	}
	if cfg.SeriesOrder == 0 {
		cfg.SeriesOrder = 6
	}
	if cfg.SeriesOrder < 4 || cfg.SeriesOrder > 8 {
		return nil, fmt.Errorf("series order must be within 4..8, got %d", cfg.SeriesOrder)
	}
	if cfg.SeriesTolerance == 0 {
		cfg.SeriesTolerance = 1e-6
	}
	if cfg.SeriesTolerance < 0 || cfg.SeriesTolerance >= 1 {
		return nil, fmt.Errorf("series tolerance must be in [0,1), got %g", cfg.SeriesTolerance)
	}

	perturb, err := parseDecimal(cfg.PerturbationThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid perturbation threshold: %w", err)
	}
	deep, err := parseDecimal(cfg.DeepThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid deep threshold: %w", err)
	}
	if perturb.Cmp(deep) >= 0 {
		return nil, fmt.Errorf("perturbation threshold %s must be below deep threshold %s",
			cfg.PerturbationThreshold, cfg.DeepThreshold)
	}

	return &Coordinator{
		perturbThreshold: perturb,
		deepThreshold:    deep,
		seriesOrder:      cfg.SeriesOrder,
		seriesTolerance:  cfg.SeriesTolerance,
	}, nil
}

// Plan selects the precision mode and working precision for a view.
func (c *Coordinator) Plan(view fractal.View, frame fractal.Frame) (Plan, error) {
	if err := view.Validate(); err != nil {
		return Plan{}, err
	}
	zoom, err := parseDecimal(view.Zoom)
	if err != nil {
		return Plan{}, fmt.Errorf("invalid view zoom: %w", err)
	}

	exp := zoom.MantExp(nil)
	if exp < 0 {
		exp = 0
	}

	plan := Plan{ZoomExponent: exp, SeriesOrder: c.seriesOrder}
	switch {
	case zoom.Cmp(c.perturbThreshold) < 0:
		plan.Mode = ModeDirect
		plan.MantissaBits = 53
		plan.SeriesOrder = 0
	case zoom.Cmp(c.deepThreshold) < 0:
		plan.Mode = ModePerturbation
		plan.MantissaBits = uint(exp) + 64
	default:
		plan.Mode = ModeDeep
		plan.MantissaBits = uint(exp) + 192
	}

	if frame.Width > 0 {
		m, err := fractal.PlaneMapFor(view, frame)
		if err != nil {
			return Plan{}, err
		}
		plan.PixelSpacing = m.Step
	}
	return plan, nil
}

// Prepare computes everything the scheduler must broadcast before tasks at
// this view may dispatch. In direct mode the broadcast carries only the plan;
// otherwise it holds a fresh reference orbit at the view centre and, for
// formulas with a series recurrence, the series coefficients.
func (c *Coordinator) Prepare(ctx context.Context, view fractal.View, frame fractal.Frame, params fractal.RenderParams) (*Broadcast, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	plan, err := c.Plan(view, frame)
	if err != nil {
		return nil, err
	}
	if !plan.Mode.UsesReference() {
		return &Broadcast{Plan: plan}, nil
	}

	center, err := resolvePoint(view, frame, float64(frame.Width)/2, float64(frame.Height)/2, plan.MantissaBits)
	if err != nil {
		return nil, err
	}

	orbit, err := computeOrbit(ctx, params, center, plan.MantissaBits)
	if err != nil {
		return nil, fmt.Errorf("reference orbit at view centre: %w", err)
	}
	orbit.PixelX = float64(frame.Width) / 2
	orbit.PixelY = float64(frame.Height) / 2
	orbit.Generation = c.generation.Add(1)

	series := deriveSeries(orbit, plan.SeriesOrder, maxInitialDelta(plan.PixelSpacing, frame), c.seriesTolerance)
	series.Generation = orbit.Generation

	return &Broadcast{Plan: plan, Orbit: orbit, Series: series}, nil
}

// Rebase computes a fresh reference orbit local to a glitch cluster, seeded
// at the given frame pixel. The returned orbit is attached to the repair
// task alone; it is not broadcast.
func (c *Coordinator) Rebase(ctx context.Context, view fractal.View, frame fractal.Frame, px, py int, params fractal.RenderParams, plan Plan) (*fractal.ReferenceOrbit, error) {
	if !plan.Mode.UsesReference() {
		return nil, fmt.Errorf("rebase requested in %s mode", plan.Mode)
	}
	point, err := resolvePoint(view, frame, float64(px), float64(py), plan.MantissaBits)
	if err != nil {
		return nil, err
	}
	orbit, err := computeOrbit(ctx, params, point, plan.MantissaBits)
	if err != nil {
		return nil, fmt.Errorf("local reference orbit at (%d,%d): %w", px, py, err)
	}
	orbit.PixelX = float64(px)
	orbit.PixelY = float64(py)
	orbit.Generation = c.generation.Add(1)
	return orbit, nil
}

// maxInitialDelta is the largest |delta0| any pixel of the frame can have
// relative to the centre reference: half the frame diagonal in plane units.
func maxInitialDelta(step float64, frame fractal.Frame) float64 {
	hw := float64(frame.Width) / 2
	hh := float64(frame.Height) / 2
	return step * math.Sqrt(hw*hw+hh*hh)
}

func parseDecimal(s string) (*big.Float, error) {
	probe, ok := new(big.Float).SetPrec(64).SetString(s)
	if !ok {
		return nil, fmt.Errorf("not a decimal number: %q", s)
	}
	if probe.Sign() <= 0 {
		return nil, fmt.Errorf("must be positive: %q", s)
	}
	exp := probe.MantExp(nil)
	if exp < 0 {
		exp = 0
	}
	v, _ := new(big.Float).SetPrec(uint(exp) + 96).SetString(s)
	return v, nil
}
