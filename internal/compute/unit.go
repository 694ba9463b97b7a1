// Package compute implements the compute unit: the isolated execution
// context that iterates every pixel of a dispatched tile and returns a full
// result buffer plus any glitch records.
//
// A unit iterates directly in float64 when dispatched without reference data,
// and in perturbation deltas against the dispatched reference orbit
// otherwise. Cancellation is cooperative and checked at row boundaries, so
// the worst-case cancellation latency is one tile row of iterations. A
// cancelled run acknowledges with scheduler.ErrCancelled and delivers no
// partial buffer.
package compute

import (
	"fmt"
	"math"
	"time"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/scheduler"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// Unit is one compute unit. The scheduler drives each unit from a single
// slot goroutine, one task at a time.
type Unit struct {
	id int
}

// NewUnit creates a compute unit for a worker slot.
func NewUnit(id int) *Unit {
	return &Unit{id: id}
}

// Factory adapts NewUnit to the shape the scheduler's pool config consumes.
func Factory() func(id int) scheduler.Unit {
	return func(id int) scheduler.Unit { return NewUnit(id) }
}

// Run iterates every pixel of the dispatched tile. The buffer is row-major
// with exactly one entry per tile pixel; glitched pixels keep their
// best-effort iteration count and are additionally flagged as glitch records
// for the repair pass.
func (u *Unit) Run(d scheduler.Dispatch) (*fractal.TileResult, error) {
	if err := d.Tile.Validate(); err != nil {
		return nil, fmt.Errorf("unit %d: %w", u.id, err)
	}
	if err := d.Params.Validate(); err != nil {
		return nil, fmt.Errorf("unit %d: %w", u.id, err)
	}
	if d.Orbit != nil && d.Orbit.Formula != d.Params.Formula {
		return nil, fmt.Errorf("unit %d: reference orbit is for %s, task wants %s",
			u.id, d.Orbit.Formula, d.Params.Formula)
	}

	start := time.Now()
	buf := make([]int32, d.Tile.Pixels())
	var glitches []fractal.GlitchRecord

	for row := 0; row < d.Tile.Height; row++ {
		select {
		case <-d.Cancel:
			return nil, scheduler.ErrCancelled
		default:
		}

		py := d.Tile.Y0 + row
		for col := 0; col < d.Tile.Width; col++ {
			px := d.Tile.X0 + col

			var n int32
			if d.Orbit != nil {
				iters, glitchAt, glitched := perturbPixel(d, px, py)
				if glitched {
					glitches = append(glitches, fractal.GlitchRecord{
						PixelX:    px,
						PixelY:    py,
						Iteration: glitchAt,
					})
				}
				n = iters
			} else {
				n = directPixel(d.Tile.Map, d.Params, px, py)
			}
			buf[row*d.Tile.Width+col] = n
		}

		if d.Progress != nil {
			d.Progress(float64(row+1) / float64(d.Tile.Height))
		}
	}

	return &fractal.TileResult{
		TaskID:     d.TaskID,
		Tile:       d.Tile,
		Iterations: buf,
		Glitches:   glitches,
		Elapsed:    time.Since(start),
	}, nil
}

// directPixel runs the plain float64 escape loop. Returns the iteration at
// which the orbit escaped, or the iteration cap for interior pixels.
func directPixel(m fractal.PlaneMap, p fractal.RenderParams, px, py int) int32 {
	cr, ci := m.Complex(px, py)
	c := complex(cr, ci)
	bail2 := p.Bailout * p.Bailout

	z := complex(0, 0)
	for n := 1; n <= p.MaxIterations; n++ {
		z = formulaStep(p.Formula, z, c)
		if real(z)*real(z)+imag(z)*imag(z) > bail2 {
			return int32(n)
		}
	}
	return int32(p.MaxIterations)
}

// perturbPixel iterates the pixel as a low-precision delta against the
// dispatched reference orbit, optionally skipping ahead with the series
// polynomial. It flags a glitch when the delta magnitude becomes comparable
// to the reference value (relative precision collapse) or when the reference
// orbit escapes before the pixel does and cannot carry it further. Glitched
// pixels return their best-effort count and must be re-seeded locally.
func perturbPixel(d scheduler.Dispatch, px, py int) (count int32, glitchAt int, glitched bool) {
	p := d.Params
	ref := d.Orbit.Values
	delta0 := d.Tile.Map.Delta(px, py, d.Orbit.PixelX, d.Orbit.PixelY)

	n := 0
	delta := complex(0, 0)
	if d.Series != nil && d.Series.SkipIteration > 0 && d.Orbit.Formula == fractal.FormulaMandelbrot {
		delta = d.Series.Evaluate(delta0)
		n = d.Series.SkipIteration
	}

	bail2 := p.Bailout * p.Bailout
	tol := p.GlitchTolerance

	for n < p.MaxIterations {
		if n+1 >= len(ref) {
			// Reference escaped before the pixel: the orbit cannot carry the
			// delta any further at this reference point.
			return int32(n), n, true
		}

		delta = perturbStep(p.Formula, ref[n], delta, delta0)
		n++

		x := ref[n]
		zr := real(x) + real(delta)
		zi := imag(x) + imag(delta)
		if zr*zr+zi*zi > bail2 {
			return int32(n), 0, false
		}

		xmag2 := real(x)*real(x) + imag(x)*imag(x)
		dmag2 := real(delta)*real(delta) + imag(delta)*imag(delta)
		if xmag2 > 0 && dmag2 > tol*xmag2 {
			return int32(n), n, true
		}
	}
	return int32(p.MaxIterations), 0, false
}

// formulaStep applies one full-value iteration of the formula.
func formulaStep(f fractal.Formula, z, c complex128) complex128 {
	switch f {
	case fractal.FormulaMandelbrot:
		return z*z + c
	case fractal.FormulaMultibrot3:
		return z*z*z + c
	case fractal.FormulaTricorn:
		zc := complex(real(z), -imag(z))
		return zc*zc + c
	case fractal.FormulaBurningShip:
		w := complex(math.Abs(real(z)), math.Abs(imag(z)))
		return w*w + c
	default:
		return z
	}
}

// perturbStep advances the perturbation delta one iteration against
// reference value x. Derived by expanding the formula at x+delta and
// subtracting the reference recurrence.
func perturbStep(f fractal.Formula, x, delta, delta0 complex128) complex128 {
	switch f {
	case fractal.FormulaMandelbrot:
		return 2*x*delta + delta*delta + delta0
	case fractal.FormulaMultibrot3:
		return 3*x*x*delta + 3*x*delta*delta + delta*delta*delta + delta0
	case fractal.FormulaTricorn:
		t := 2*x*delta + delta*delta
		return complex(real(t), -imag(t)) + delta0
	case fractal.FormulaBurningShip:
		// |X+delta| = |X| + diffabs(X, delta) componentwise, so the delta
		// recurrence keeps the mandelbrot shape against the folded reference.
		a := complex(math.Abs(real(x)), math.Abs(imag(x)))
		d := complex(diffabs(real(x), real(delta)), diffabs(imag(x), imag(delta)))
		return 2*a*d + d*d + delta0
	default:
		return delta
	}
}

// diffabs computes |x+d| - |x| exactly, splitting on whether adding d crosses
// zero.
func diffabs(x, d float64) float64 {
	if x >= 0 {
		if x+d >= 0 {
			return d
		}
		return -(2*x + d)
	}
	if x+d > 0 {
		return 2*x + d
	}
	return -d
}
