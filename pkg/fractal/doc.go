// Package fractal provides the shared data model for the abyss render core.
//
// # Overview
//
// Every component of the renderer (scheduler, precision coordinator, compute
// units, render driver, export) exchanges the well-defined value types in this
// package. The package holds no behaviour beyond construction, validation and
// the pixel/plane geometry - iteration kernels live in internal/compute and
// the pool machinery in internal/scheduler.
//
// # Core Concepts
//
// A Tile is the unit of parallel work: a pixel rectangle inside a Frame plus
// the affine PlaneMap that places those pixels on the complex plane. Tiles are
// produced by PartitionFrame and consumed exactly once by a render task.
//
// A ReferenceOrbit is one high-precision iterated sequence, rounded per
// iteration to complex128, used as the baseline for perturbation rendering.
// SeriesCoefficients approximate the early perturbation deltas as a polynomial
// in the initial delta, letting per-pixel iteration start at SkipIteration
// instead of zero. Both are immutable broadcast snapshots: a new broadcast
// fully replaces, never patches, the previous one.
//
// A GlitchRecord marks a pixel whose perturbation delta grew comparable to the
// reference orbit value at some iteration - a loss of relative precision. Such
// pixels are recomputed from a freshly chosen local reference orbit rather
// than trusted as-is.
//
// # Deep Zoom
//
// View coordinates are carried as decimal strings because a float64 cannot
// represent a centre or zoom once magnification passes roughly 1e13 (and zoom
// values themselves may exceed the float64 range entirely). Parsing to the
// required precision happens in internal/precision.
package fractal
