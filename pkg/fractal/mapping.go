package fractal

import (
	"fmt"
	"math"
	"math/big"
)

// BaseSpan is the width of the complex-plane window at zoom 1. The classic
// mandelbrot view spans real -2..2 across the frame.
const BaseSpan = 4.0

// PlaneMap is the affine pixel-to-complex mapping for a frame: pixel (0,0)
// maps to Origin and each pixel step moves Step along the real axis and -Step
// along the imaginary axis (screen y grows downward).
//
// Origin values are float64 and therefore only meaningful for direct-mode
// rendering at shallow zoom. Deep-zoom kernels never touch them: they work in
// deltas relative to the reference pixel, which stay representable long after
// absolute coordinates are not.
type PlaneMap struct {
	OriginRe float64 `json:"origin_re"` // Real part of pixel (0,0)
	OriginIm float64 `json:"origin_im"` // Imaginary part of pixel (0,0)
	Step     float64 `json:"step"`      // Plane distance between adjacent pixels
}

// Validate checks the mapping has a usable step.
func (m PlaneMap) Validate() error {
	if m.Step <= 0 || math.IsInf(m.Step, 0) || math.IsNaN(m.Step) {
		return fmt.Errorf("plane map step must be positive and finite, got %g", m.Step)
	}
	return nil
}

// Complex maps a frame pixel to its complex-plane coordinates.
func (m PlaneMap) Complex(px, py int) (re, im float64) {
	return m.OriginRe + float64(px)*m.Step, m.OriginIm - float64(py)*m.Step
}

// Pixel maps complex-plane coordinates back to the nearest frame pixel.
// It is the inverse of Complex for pixels inside the frame.
func (m PlaneMap) Pixel(re, im float64) (px, py int) {
	px = int(math.Round((re - m.OriginRe) / m.Step))
	py = int(math.Round((m.OriginIm - im) / m.Step))
	return px, py
}

// Delta returns the complex offset of a frame pixel from a (possibly
// fractional) reference pixel. This is the perturbation kernel's initial
// delta and avoids absolute coordinates entirely.
func (m PlaneMap) Delta(px, py int, refX, refY float64) complex128 {
	return complex((float64(px)-refX)*m.Step, -(float64(py)-refY)*m.Step)
}

// PlaneMapFor builds the frame mapping for a view. Centre and zoom are parsed
// at whatever precision the zoom depth demands, then rounded once into the
// float64 mapping: the step survives rounding to roughly zoom 1e300, the
// origin only to roughly 1e13 (which is all direct mode needs).
func PlaneMapFor(view View, frame Frame) (PlaneMap, error) {
	if err := view.Validate(); err != nil {
		return PlaneMap{}, err
	}
	if err := frame.Validate(); err != nil {
		return PlaneMap{}, err
	}

	zoom, prec, err := parseZoom(view.Zoom)
	if err != nil {
		return PlaneMap{}, err
	}

	cx, ok := new(big.Float).SetPrec(prec).SetString(view.CenterX)
	if !ok {
		return PlaneMap{}, fmt.Errorf("invalid centre x: %q", view.CenterX)
	}
	cy, ok := new(big.Float).SetPrec(prec).SetString(view.CenterY)
	if !ok {
		return PlaneMap{}, fmt.Errorf("invalid centre y: %q", view.CenterY)
	}

	// step = BaseSpan / (zoom * frameWidth)
	step := new(big.Float).SetPrec(prec).SetFloat64(BaseSpan)
	step.Quo(step, zoom)
	step.Quo(step, new(big.Float).SetPrec(prec).SetInt64(int64(frame.Width)))

	halfW := new(big.Float).SetPrec(prec).SetInt64(int64(frame.Width) / 2)
	halfH := new(big.Float).SetPrec(prec).SetInt64(int64(frame.Height) / 2)

	originRe := new(big.Float).SetPrec(prec).Sub(cx, new(big.Float).Mul(halfW, step))
	originIm := new(big.Float).SetPrec(prec).Add(cy, new(big.Float).Mul(halfH, step))

	stepF, _ := step.Float64()
	reF, _ := originRe.Float64()
	imF, _ := originIm.Float64()

	m := PlaneMap{OriginRe: reF, OriginIm: imF, Step: stepF}
	if err := m.Validate(); err != nil {
		return PlaneMap{}, fmt.Errorf("view too deep for a plane map: %w", err)
	}
	return m, nil
}

// parseZoom parses a zoom string and returns it together with the working
// precision its magnitude demands (53 mantissa bits plus one per doubling of
// zoom, plus guard bits).
func parseZoom(s string) (*big.Float, uint, error) {
	probe, ok := new(big.Float).SetPrec(64).SetString(s)
	if !ok {
		return nil, 0, fmt.Errorf("invalid zoom: %q", s)
	}
	if probe.Sign() <= 0 {
		return nil, 0, fmt.Errorf("zoom must be positive, got %q", s)
	}

	exp := probe.MantExp(nil)
	if exp < 0 {
		exp = 0
	}
	prec := uint(exp) + 96

	zoom, ok := new(big.Float).SetPrec(prec).SetString(s)
	if !ok {
		return nil, 0, fmt.Errorf("invalid zoom: %q", s)
	}
	return zoom, prec, nil
}
