package fractal

import (
	"fmt"
	"time"
)

// Formula identifies the escape-time iteration applied per pixel.
// The per-pixel math is a black box to the scheduler; compute units map each
// formula to its direct and perturbation kernels.
type Formula string

const (
	// FormulaMandelbrot iterates z = z^2 + c
	FormulaMandelbrot Formula = "mandelbrot"

	// FormulaMultibrot3 iterates z = z^3 + c
	FormulaMultibrot3 Formula = "multibrot3"

	// FormulaTricorn iterates z = conj(z)^2 + c
	FormulaTricorn Formula = "tricorn"

	// FormulaBurningShip iterates z = (|Re z| + i|Im z|)^2 + c
	FormulaBurningShip Formula = "burning-ship"
)

// Validate checks if the Formula is a valid enum value.
func (f Formula) Validate() error {
	switch f {
	case FormulaMandelbrot, FormulaMultibrot3, FormulaTricorn, FormulaBurningShip:
		return nil
	default:
		return fmt.Errorf("unknown formula: %q", f)
	}
}

// Priority expresses how urgently a task should be dispatched.
// The queue orders by rank descending, then submission order ascending, so a
// high-priority task always wins the next idle slot and ties stay FIFO.
type Priority string

const (
	// PriorityLow is used for speculative or prefetch work
	PriorityLow Priority = "low"

	// PriorityNormal is the default for first-pass viewport tiles
	PriorityNormal Priority = "normal"

	// PriorityHigh is used for interactive refinements and glitch repair
	PriorityHigh Priority = "high"
)

// Rank returns the numeric ordering of the priority. Higher dispatches first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Validate checks if the Priority is a valid enum value.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return nil
	default:
		return fmt.Errorf("unknown priority: %q", p)
	}
}

// Frame is the full pixel viewport being rendered.
type Frame struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Validate checks if the Frame has positive dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame dimensions must be positive, got %dx%d", f.Width, f.Height)
	}
	return nil
}

// Tile is a pixel rectangle inside a Frame together with the plane mapping
// that places frame pixels on the complex plane. Tiles are immutable and
// consumed exactly once by a render task.
type Tile struct {
	X0     int      `json:"x0"`     // Left edge in frame pixels
	Y0     int      `json:"y0"`     // Top edge in frame pixels
	Width  int      `json:"width"`  // Pixel columns covered
	Height int      `json:"height"` // Pixel rows covered
	Map    PlaneMap `json:"map"`    // Frame-level pixel to complex-plane mapping
}

// Key returns the stable identifier used to key tile results during image
// assembly. Two tiles from one partition never share a key.
func (t Tile) Key() string {
	return fmt.Sprintf("%d,%d", t.X0, t.Y0)
}

// Pixels returns the number of pixels the tile covers.
func (t Tile) Pixels() int {
	return t.Width * t.Height
}

// Validate checks if the Tile has a well-formed rectangle and mapping.
func (t Tile) Validate() error {
	if t.X0 < 0 || t.Y0 < 0 {
		return fmt.Errorf("tile origin must be non-negative, got (%d,%d)", t.X0, t.Y0)
	}
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("tile dimensions must be positive, got %dx%d", t.Width, t.Height)
	}
	if err := t.Map.Validate(); err != nil {
		return fmt.Errorf("invalid tile mapping: %w", err)
	}
	return nil
}

// RenderParams are the read-only iteration parameters attached to a task.
type RenderParams struct {
	Formula         Formula `json:"formula"`          // Escape-time formula to iterate
	MaxIterations   int     `json:"max_iterations"`   // Iteration cap; pixels reaching it are interior
	Bailout         float64 `json:"bailout"`          // Escape radius; |z| beyond it means escaped
	GlitchTolerance float64 `json:"glitch_tolerance"` // Squared-magnitude ratio |delta|^2 / |ref|^2 that flags a glitch
}

// Validate checks if the RenderParams fields are inside accepted ranges.
func (p RenderParams) Validate() error {
	if err := p.Formula.Validate(); err != nil {
		return err
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", p.MaxIterations)
	}
	if p.Bailout < 2 {
		return fmt.Errorf("bailout radius must be >= 2, got %g", p.Bailout)
	}
	if p.GlitchTolerance <= 0 || p.GlitchTolerance >= 1 {
		return fmt.Errorf("glitch tolerance must be in (0,1), got %g", p.GlitchTolerance)
	}
	return nil
}

// View is a position on the complex plane at a magnification. Coordinates are
// decimal strings: past roughly 1e13 zoom a float64 cannot separate
// neighbouring pixel centres, and zoom itself may exceed the float64 range.
type View struct {
	CenterX string `json:"center_x"` // Real part of the view centre, decimal string
	CenterY string `json:"center_y"` // Imaginary part of the view centre, decimal string
	Zoom    string `json:"zoom"`     // Magnification relative to the unit view, decimal string
}

// Validate checks that the view fields are present. Numeric range checking
// happens when the precision coordinator parses them.
func (v View) Validate() error {
	if v.CenterX == "" || v.CenterY == "" {
		return fmt.Errorf("view centre coordinates cannot be empty")
	}
	if v.Zoom == "" {
		return fmt.Errorf("view zoom cannot be empty")
	}
	return nil
}

// ReferenceOrbit is one high-precision iterated sequence computed from a
// single reference point, rounded per iteration to complex128 for use by the
// perturbation kernels. View-scoped and immutable: a view change supersedes
// the orbit with a fresh broadcast, it is never mutated in place.
type ReferenceOrbit struct {
	Formula    Formula      `json:"formula"`    // Formula the orbit was iterated with
	PixelX     float64      `json:"pixel_x"`    // Reference location in frame pixels (fractional)
	PixelY     float64      `json:"pixel_y"`    // Reference location in frame pixels (fractional)
	Values     []complex128 `json:"-"`          // Orbit values X_0..X_n rounded to complex128
	Escaped    bool         `json:"escaped"`    // Whether the orbit escaped before the iteration cap
	Generation uint64       `json:"generation"` // Monotonic broadcast counter, diagnostics only
}

// Validate checks if the ReferenceOrbit is usable by a perturbation kernel.
func (o *ReferenceOrbit) Validate() error {
	if err := o.Formula.Validate(); err != nil {
		return err
	}
	if len(o.Values) == 0 {
		return fmt.Errorf("reference orbit has no values")
	}
	return nil
}

// SeriesCoefficients approximate the perturbation delta at SkipIteration as a
// polynomial in the initial delta: delta ~= sum_k Coefficients[k-1]*delta0^k.
// Paired with a ReferenceOrbit of the same generation; replaced, never
// patched, on broadcast.
type SeriesCoefficients struct {
	Coefficients  []complex128 `json:"-"`              // Polynomial coefficients, degree 1 first
	SkipIteration int          `json:"skip_iteration"` // Iteration the polynomial is valid up to
	Generation    uint64       `json:"generation"`     // Matches the paired orbit broadcast
}

// Evaluate applies the polynomial to an initial delta, yielding the
// approximate perturbation delta at SkipIteration.
func (s *SeriesCoefficients) Evaluate(delta0 complex128) complex128 {
	// Horner's rule over coefficients of delta0^1..delta0^n.
	var acc complex128
	for k := len(s.Coefficients) - 1; k >= 0; k-- {
		acc = acc*delta0 + s.Coefficients[k]
	}
	return acc * delta0
}

// Validate checks if the SeriesCoefficients are internally consistent.
func (s *SeriesCoefficients) Validate() error {
	if s.SkipIteration < 0 {
		return fmt.Errorf("skip iteration must be >= 0, got %d", s.SkipIteration)
	}
	if s.SkipIteration > 0 && len(s.Coefficients) == 0 {
		return fmt.Errorf("non-zero skip iteration with no coefficients")
	}
	return nil
}

// GlitchRecord marks a frame pixel whose perturbation delta became comparable
// in magnitude to the reference orbit value: the approximation lost relative
// precision there and the pixel must be recomputed from a local reference.
type GlitchRecord struct {
	PixelX    int `json:"pixel_x"`   // Frame-absolute pixel column
	PixelY    int `json:"pixel_y"`   // Frame-absolute pixel row
	Iteration int `json:"iteration"` // Iteration at which relative precision collapsed
}

// TileResult is the terminal output of one completed render task. Iterations
// is row-major over the tile rectangle with exactly Width*Height entries, one
// per pixel; glitched pixels carry best-effort values and appear in Glitches.
type TileResult struct {
	TaskID     string         `json:"task_id"`
	Tile       Tile           `json:"tile"`
	Iterations []int32        `json:"iterations"`
	Glitches   []GlitchRecord `json:"glitches,omitempty"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
}

// Validate checks structural consistency of the result buffer.
func (r *TileResult) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("tile result missing task id")
	}
	if err := r.Tile.Validate(); err != nil {
		return fmt.Errorf("invalid result tile: %w", err)
	}
	if got, want := len(r.Iterations), r.Tile.Pixels(); got != want {
		return fmt.Errorf("iteration buffer has %d entries, tile needs %d", got, want)
	}
	return nil
}

// ProgressUpdate reports the completed fraction of an in-flight task.
type ProgressUpdate struct {
	TaskID   string  `json:"task_id"`
	Fraction float64 `json:"fraction"` // 0.0 to 1.0
}
