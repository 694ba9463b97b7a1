package precision

import (
	"context"
	"fmt"
	"math/big"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// point is a complex-plane location held at working precision.
type point struct {
	re *big.Float
	im *big.Float
}

// resolvePoint turns a (possibly fractional) frame pixel into its exact
// complex coordinates for a view, carried at prec mantissa bits. Unlike the
// float64 plane map, this stays exact at any zoom the thresholds allow.
func resolvePoint(view fractal.View, frame fractal.Frame, px, py float64, prec uint) (point, error) {
	cx, ok := new(big.Float).SetPrec(prec).SetString(view.CenterX)
	if !ok {
		return point{}, fmt.Errorf("invalid centre x: %q", view.CenterX)
	}
	cy, ok := new(big.Float).SetPrec(prec).SetString(view.CenterY)
	if !ok {
		return point{}, fmt.Errorf("invalid centre y: %q", view.CenterY)
	}
	zoom, ok := new(big.Float).SetPrec(prec).SetString(view.Zoom)
	if !ok || zoom.Sign() <= 0 {
		return point{}, fmt.Errorf("invalid zoom: %q", view.Zoom)
	}

	// step = BaseSpan / (zoom * frameWidth), at full working precision.
	step := new(big.Float).SetPrec(prec).SetFloat64(fractal.BaseSpan)
	step.Quo(step, zoom)
	step.Quo(step, new(big.Float).SetPrec(prec).SetInt64(int64(frame.Width)))

	dx := new(big.Float).SetPrec(prec).SetFloat64(px - float64(frame.Width)/2)
	dy := new(big.Float).SetPrec(prec).SetFloat64(py - float64(frame.Height)/2)
	dx.Mul(dx, step)
	dy.Mul(dy, step)

	re := new(big.Float).SetPrec(prec).Add(cx, dx)
	im := new(big.Float).SetPrec(prec).Sub(cy, dy)
	return point{re: re, im: im}, nil
}

// computeOrbit iterates the formula from z=0 at the given point with
// arbitrary-precision arithmetic, recording each iterate rounded to
// complex128. The orbit stops at escape or at the iteration cap; the context
// is checked every 256 iterations since deep orbits can run long.
func computeOrbit(ctx context.Context, params fractal.RenderParams, p point, prec uint) (*fractal.ReferenceOrbit, error) {
	zr := new(big.Float).SetPrec(prec)
	zi := new(big.Float).SetPrec(prec)
	zr2 := new(big.Float).SetPrec(prec)
	zi2 := new(big.Float).SetPrec(prec)
	t := new(big.Float).SetPrec(prec)
	u := new(big.Float).SetPrec(prec)
	mag2 := new(big.Float).SetPrec(prec)
	bail2 := new(big.Float).SetPrec(prec).SetFloat64(params.Bailout * params.Bailout)

	values := make([]complex128, 0, params.MaxIterations+1)
	values = append(values, complex(0, 0))

	escaped := false
	for n := 0; n < params.MaxIterations; n++ {
		if n&255 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		zr2.Mul(zr, zr)
		zi2.Mul(zi, zi)

		switch params.Formula {
		case fractal.FormulaMandelbrot, fractal.FormulaTricorn:
			t.Mul(zr, zi)
			t.Add(t, t) // 2*zr*zi
			if params.Formula == fractal.FormulaTricorn {
				t.Neg(t)
			}
			u.Sub(zr2, zi2)
			zr.Add(u, p.re)
			zi.Add(t, p.im)

		case fractal.FormulaBurningShip:
			// (|zr| + i|zi|)^2 keeps the real part zr^2 - zi^2 and folds the
			// cross term's sign: zi' = 2|zr*zi| + ci.
			t.Mul(zr, zi)
			t.Add(t, t)
			t.Abs(t)
			u.Sub(zr2, zi2)
			zr.Add(u, p.re)
			zi.Add(t, p.im)

		case fractal.FormulaMultibrot3:
			// zr' = zr*(zr^2 - 3*zi^2) + cr
			t.SetInt64(3)
			t.Mul(t, zi2)
			u.Sub(zr2, t)
			u.Mul(u, zr)
			// zi' = zi*(3*zr^2 - zi^2) + ci
			t.SetInt64(3)
			t.Mul(t, zr2)
			t.Sub(t, zi2)
			t.Mul(t, zi)
			zr.Add(u, p.re)
			zi.Add(t, p.im)

		default:
			return nil, fmt.Errorf("unknown formula: %q", params.Formula)
		}

		rf, _ := zr.Float64()
		mf, _ := zi.Float64()
		values = append(values, complex(rf, mf))

		zr2.Mul(zr, zr)
		zi2.Mul(zi, zi)
		mag2.Add(zr2, zi2)
		if mag2.Cmp(bail2) > 0 {
			escaped = true
			break
		}
	}

	return &fractal.ReferenceOrbit{
		Formula: params.Formula,
		Values:  values,
		Escaped: escaped,
	}, nil
}
