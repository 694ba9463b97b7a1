package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/compute"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/precision"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/scheduler"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/stream"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

func newCoordinator(t *testing.T, cfg precision.Config) *precision.Coordinator {
	t.Helper()
	coord, err := precision.New(cfg)
	require.NoError(t, err)
	return coord
}

func newPool(t *testing.T, workers int, factory func(id int) scheduler.Unit) *scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.New(scheduler.Config{Workers: workers, NewUnit: factory})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewValidatesConfig(t *testing.T) {
	coord := newCoordinator(t, precision.Config{})
	pool := newPool(t, 1, compute.Factory())

	_, err := New(nil, coord, Config{})
	assert.Error(t, err)

	_, err = New(pool, nil, Config{})
	assert.Error(t, err)

	_, err = New(pool, coord, Config{TileSize: -4})
	assert.Error(t, err)

	_, err = New(pool, coord, Config{GlitchPasses: -1})
	assert.Error(t, err)
}

// End-to-end direct render on real compute units: the classic full view at
// zoom one. Every tile merges, no glitches occur, and known pixels carry
// their known escape counts.
func TestRenderDirectView(t *testing.T) {
	coord := newCoordinator(t, precision.Config{})
	pool := newPool(t, 4, compute.Factory())
	sink := stream.NewChannelSink(64)

	var lastDone, lastTotal int
	driver, err := New(pool, coord, Config{
		TileSize: 16,
		Sink:     sink,
		OnProgress: func(done, total int) {
			lastDone, lastTotal = done, total
		},
	})
	require.NoError(t, err)

	view := fractal.View{CenterX: "0", CenterY: "0", Zoom: "1"}
	frame := fractal.Frame{Width: 64, Height: 64}
	params := fractal.RenderParams{
		Formula:         fractal.FormulaMandelbrot,
		MaxIterations:   100,
		Bailout:         2,
		GlitchTolerance: 1e-3,
	}

	res, err := driver.Render(context.Background(), view, frame, params)
	require.NoError(t, err)

	assert.Equal(t, precision.ModeDirect, res.Plan.Mode)
	assert.Equal(t, 16, res.Tiles)
	assert.Zero(t, res.Passes)
	assert.Empty(t, res.Unrepaired)
	assert.Equal(t, 16, lastDone)
	assert.Equal(t, 16, lastTotal)

	// Centre of the view is c=0: interior at the cap. The top-left corner is
	// far outside the set and escapes immediately.
	assert.Equal(t, int32(100), res.Canvas.At(32, 32))
	assert.Equal(t, int32(1), res.Canvas.At(0, 0))

	// Every tile was announced on the sink.
	require.NoError(t, sink.Close())
	var tileEvents int
	for range sink.Tiles() {
		tileEvents++
	}
	assert.Equal(t, 16, tileEvents)
}

// passUnit distinguishes the broadcast pass from repair passes by reference
// generation: the broadcast orbit carries generation 1, rebased local orbits
// carry later generations.
type passUnit struct {
	glitchAt []fractal.GlitchRecord
}

func (u *passUnit) Run(d scheduler.Dispatch) (*fractal.TileResult, error) {
	buf := make([]int32, d.Tile.Pixels())
	fill := int32(7)
	if d.Orbit != nil && d.Orbit.Generation > 1 {
		fill = 99 // repaired value
	}
	for i := range buf {
		buf[i] = fill
	}

	var glitches []fractal.GlitchRecord
	if d.Orbit != nil && d.Orbit.Generation == 1 {
		for _, g := range u.glitchAt {
			if g.PixelX >= d.Tile.X0 && g.PixelX < d.Tile.X0+d.Tile.Width &&
				g.PixelY >= d.Tile.Y0 && g.PixelY < d.Tile.Y0+d.Tile.Height {
				glitches = append(glitches, g)
			}
		}
	}

	return &fractal.TileResult{
		TaskID:     d.TaskID,
		Tile:       d.Tile,
		Iterations: buf,
		Glitches:   glitches,
	}, nil
}

// One repair pass resolves the planted glitches: the driver re-seeds a local
// reference, resubmits the cluster at high priority, and overwrites only the
// glitched pixels.
func TestRenderRepairsGlitches(t *testing.T) {
	// A low threshold pushes this shallow view into perturbation mode so the
	// pipeline computes and rebases real reference orbits.
	coord := newCoordinator(t, precision.Config{PerturbationThreshold: "1"})

	planted := []fractal.GlitchRecord{
		{PixelX: 3, PixelY: 2, Iteration: 1},
		{PixelX: 4, PixelY: 2, Iteration: 1},
		{PixelX: 12, PixelY: 13, Iteration: 1},
	}
	pool := newPool(t, 2, func(id int) scheduler.Unit { return &passUnit{glitchAt: planted} })

	driver, err := New(pool, coord, Config{TileSize: 8, GlitchPasses: 3})
	require.NoError(t, err)

	view := fractal.View{CenterX: "-0.5", CenterY: "0", Zoom: "2"}
	frame := fractal.Frame{Width: 16, Height: 16}
	params := fractal.RenderParams{
		Formula:         fractal.FormulaMandelbrot,
		MaxIterations:   50,
		Bailout:         2,
		GlitchTolerance: 1e-3,
	}

	res, err := driver.Render(context.Background(), view, frame, params)
	require.NoError(t, err)

	assert.Equal(t, precision.ModePerturbation, res.Plan.Mode)
	assert.Equal(t, 1, res.Passes, "one repair pass clears everything")
	assert.Empty(t, res.Unrepaired)

	// Glitched pixels carry the repaired value, their neighbours the original.
	assert.Equal(t, int32(99), res.Canvas.At(3, 2))
	assert.Equal(t, int32(99), res.Canvas.At(4, 2))
	assert.Equal(t, int32(99), res.Canvas.At(12, 13))
	assert.Equal(t, int32(7), res.Canvas.At(5, 2))
	assert.Equal(t, int32(7), res.Canvas.At(0, 0))
}

// Glitches that survive every pass come back as best-effort leftovers
// instead of failing the render.
type alwaysGlitchUnit struct{}

func (alwaysGlitchUnit) Run(d scheduler.Dispatch) (*fractal.TileResult, error) {
	buf := make([]int32, d.Tile.Pixels())
	for i := range buf {
		buf[i] = 7
	}
	return &fractal.TileResult{
		TaskID:     d.TaskID,
		Tile:       d.Tile,
		Iterations: buf,
		Glitches:   []fractal.GlitchRecord{{PixelX: d.Tile.X0, PixelY: d.Tile.Y0, Iteration: 1}},
	}, nil
}

func TestRenderBoundsRepairPasses(t *testing.T) {
	coord := newCoordinator(t, precision.Config{PerturbationThreshold: "1"})
	pool := newPool(t, 1, func(id int) scheduler.Unit { return alwaysGlitchUnit{} })

	driver, err := New(pool, coord, Config{TileSize: 8, GlitchPasses: 2})
	require.NoError(t, err)

	res, err := driver.Render(context.Background(),
		fractal.View{CenterX: "-0.5", CenterY: "0", Zoom: "2"},
		fractal.Frame{Width: 8, Height: 8},
		fractal.RenderParams{Formula: fractal.FormulaMandelbrot, MaxIterations: 50, Bailout: 2, GlitchTolerance: 1e-3})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Passes, "repair stops at the configured bound")
	require.Len(t, res.Unrepaired, 1)
	assert.Equal(t, 0, res.Unrepaired[0].PixelX)
	assert.Equal(t, int32(7), res.Canvas.At(0, 0), "leftover keeps its best-effort value")
}

// blockUntilCancelled parks until the scheduler signals cancellation.
type blockUntilCancelled struct{}

func (blockUntilCancelled) Run(d scheduler.Dispatch) (*fractal.TileResult, error) {
	<-d.Cancel
	return nil, scheduler.ErrCancelled
}

func TestRenderHonoursContext(t *testing.T) {
	coord := newCoordinator(t, precision.Config{})
	pool := newPool(t, 1, func(id int) scheduler.Unit { return blockUntilCancelled{} })

	driver, err := New(pool, coord, Config{TileSize: 8})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = driver.Render(ctx,
		fractal.View{CenterX: "0", CenterY: "0", Zoom: "1"},
		fractal.Frame{Width: 16, Height: 16},
		fractal.RenderParams{Formula: fractal.FormulaMandelbrot, MaxIterations: 50, Bailout: 2, GlitchTolerance: 1e-3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The pool is reusable after the cancelled render.
	st := pool.Stats()
	assert.Zero(t, st.Queued)
}

// A failing tile cancels the remainder of the batch and fails the render.
type failOnceUnit struct {
	failed bool
}

func (u *failOnceUnit) Run(d scheduler.Dispatch) (*fractal.TileResult, error) {
	if !u.failed {
		u.failed = true
		return nil, assert.AnError
	}
	buf := make([]int32, d.Tile.Pixels())
	return &fractal.TileResult{TaskID: d.TaskID, Tile: d.Tile, Iterations: buf}, nil
}

func TestRenderFailsOnTileError(t *testing.T) {
	coord := newCoordinator(t, precision.Config{})
	pool := newPool(t, 1, func(id int) scheduler.Unit { return &failOnceUnit{} })

	driver, err := New(pool, coord, Config{TileSize: 8})
	require.NoError(t, err)

	_, err = driver.Render(context.Background(),
		fractal.View{CenterX: "0", CenterY: "0", Zoom: "1"},
		fractal.Frame{Width: 16, Height: 16},
		fractal.RenderParams{Formula: fractal.FormulaMandelbrot, MaxIterations: 50, Bailout: 2, GlitchTolerance: 1e-3})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
