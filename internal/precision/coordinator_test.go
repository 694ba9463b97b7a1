package precision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

func TestModeValidate(t *testing.T) {
	assert.NoError(t, ModeDirect.Validate())
	assert.NoError(t, ModePerturbation.Validate())
	assert.NoError(t, ModeDeep.Validate())
	assert.Error(t, Mode("quantum").Validate())
}

func TestModeUsesReference(t *testing.T) {
	assert.False(t, ModeDirect.UsesReference())
	assert.True(t, ModePerturbation.UsesReference())
	assert.True(t, ModeDeep.UsesReference())
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, 6, c.seriesOrder)
	assert.Equal(t, 1e-6, c.seriesTolerance)

	plan, err := c.Plan(fractal.View{CenterX: "0", CenterY: "0", Zoom: "1e13"}, fractal.Frame{Width: 8, Height: 8})
	require.NoError(t, err)
	assert.Equal(t, ModePerturbation, plan.Mode, "default perturbation threshold sits at 1e13")
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"series order too low", Config{SeriesOrder: 3}},
		{"series order too high", Config{SeriesOrder: 9}},
		{"tolerance out of range", Config{SeriesTolerance: 1.5}},
		{"negative tolerance", Config{SeriesTolerance: -0.1}},
		{"unparsable threshold", Config{PerturbationThreshold: "lots"}},
		{"negative threshold", Config{DeepThreshold: "-1e300"}},
		{"thresholds out of order", Config{PerturbationThreshold: "1e300", DeepThreshold: "1e13"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestPlanSelectsModeByZoom(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	frame := fractal.Frame{Width: 8, Height: 8}

	tests := []struct {
		zoom string
		mode Mode
	}{
		{"1", ModeDirect},
		{"1000", ModeDirect},
		{"9.9e12", ModeDirect},
		{"1e13", ModePerturbation},
		{"1e50", ModePerturbation},
		{"1e299", ModePerturbation},
		{"1e300", ModeDeep},
		{"1e305", ModeDeep},
	}
	for _, tt := range tests {
		t.Run(tt.zoom, func(t *testing.T) {
			plan, err := c.Plan(fractal.View{CenterX: "0", CenterY: "0", Zoom: tt.zoom}, frame)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, plan.Mode)
		})
	}
}

func TestPlanPrecisionGrowsWithZoom(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	frame := fractal.Frame{Width: 8, Height: 8}

	direct, err := c.Plan(fractal.View{CenterX: "0", CenterY: "0", Zoom: "1"}, frame)
	require.NoError(t, err)
	assert.Equal(t, uint(53), direct.MantissaBits)
	assert.Zero(t, direct.SeriesOrder, "no series shortcut without a reference orbit")
	assert.Equal(t, 0.5, direct.PixelSpacing)

	shallow, err := c.Plan(fractal.View{CenterX: "0", CenterY: "0", Zoom: "1e20"}, frame)
	require.NoError(t, err)
	deep, err := c.Plan(fractal.View{CenterX: "0", CenterY: "0", Zoom: "1e305"}, frame)
	require.NoError(t, err)

	assert.Greater(t, shallow.MantissaBits, direct.MantissaBits)
	assert.Greater(t, deep.MantissaBits, shallow.MantissaBits)
	assert.GreaterOrEqual(t, deep.MantissaBits, uint(deep.ZoomExponent)+192,
		"deep mode carries guard bits beyond the zoom depth")
	assert.Equal(t, 6, deep.SeriesOrder)
}

func TestPlanRejectsBadViews(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	frame := fractal.Frame{Width: 8, Height: 8}

	_, err = c.Plan(fractal.View{CenterX: "0", CenterY: "0", Zoom: ""}, frame)
	assert.Error(t, err)

	_, err = c.Plan(fractal.View{CenterX: "0", CenterY: "0", Zoom: "zero"}, frame)
	assert.Error(t, err)

	_, err = c.Plan(fractal.View{CenterX: "0", CenterY: "0", Zoom: "-5"}, frame)
	assert.Error(t, err)
}

func TestPrepareDirectModeCarriesNoReference(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	b, err := c.Prepare(context.Background(),
		fractal.View{CenterX: "0", CenterY: "0", Zoom: "1"},
		fractal.Frame{Width: 8, Height: 8},
		fractal.RenderParams{Formula: fractal.FormulaMandelbrot, MaxIterations: 100, Bailout: 2, GlitchTolerance: 1e-3})
	require.NoError(t, err)

	assert.Equal(t, ModeDirect, b.Plan.Mode)
	assert.Nil(t, b.Orbit)
	assert.Nil(t, b.Series)
}

func TestPrepareComputesCentreOrbitAndSeries(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	view := fractal.View{CenterX: "-0.5", CenterY: "0", Zoom: "1e14"}
	frame := fractal.Frame{Width: 64, Height: 64}
	params := fractal.RenderParams{Formula: fractal.FormulaMandelbrot, MaxIterations: 500, Bailout: 2, GlitchTolerance: 1e-3}

	b, err := c.Prepare(context.Background(), view, frame, params)
	require.NoError(t, err)

	require.NotNil(t, b.Orbit)
	assert.Equal(t, ModePerturbation, b.Plan.Mode)
	assert.Equal(t, float64(32), b.Orbit.PixelX)
	assert.Equal(t, float64(32), b.Orbit.PixelY)
	assert.Equal(t, uint64(1), b.Orbit.Generation)
	assert.False(t, b.Orbit.Escaped, "c=-0.5 is interior")
	assert.Len(t, b.Orbit.Values, params.MaxIterations+1)

	require.NotNil(t, b.Series)
	assert.Equal(t, b.Orbit.Generation, b.Series.Generation)
	assert.Greater(t, b.Series.SkipIteration, 0,
		"a frame this small relative to the zoom admits a long series skip")
	assert.Len(t, b.Series.Coefficients, 6)

	// A second broadcast supersedes the first: generations are monotonic.
	b2, err := c.Prepare(context.Background(), view, frame, params)
	require.NoError(t, err)
	assert.Greater(t, b2.Orbit.Generation, b.Orbit.Generation)
}

func TestPrepareSkipsSeriesForOtherFormulas(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	b, err := c.Prepare(context.Background(),
		fractal.View{CenterX: "-0.5", CenterY: "0", Zoom: "1e14"},
		fractal.Frame{Width: 64, Height: 64},
		fractal.RenderParams{Formula: fractal.FormulaTricorn, MaxIterations: 200, Bailout: 2, GlitchTolerance: 1e-3})
	require.NoError(t, err)

	require.NotNil(t, b.Orbit)
	require.NotNil(t, b.Series)
	assert.Zero(t, b.Series.SkipIteration)
	assert.Empty(t, b.Series.Coefficients)
}

func TestRebaseProducesLocalOrbit(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	view := fractal.View{CenterX: "-0.5", CenterY: "0", Zoom: "1e14"}
	frame := fractal.Frame{Width: 64, Height: 64}
	params := fractal.RenderParams{Formula: fractal.FormulaMandelbrot, MaxIterations: 200, Bailout: 2, GlitchTolerance: 1e-3}

	plan, err := c.Plan(view, frame)
	require.NoError(t, err)

	orbit, err := c.Rebase(context.Background(), view, frame, 10, 20, params, plan)
	require.NoError(t, err)
	assert.Equal(t, float64(10), orbit.PixelX)
	assert.Equal(t, float64(20), orbit.PixelY)
	assert.Equal(t, uint64(1), orbit.Generation)
	assert.NotEmpty(t, orbit.Values)
}

func TestRebaseRefusesDirectMode(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	view := fractal.View{CenterX: "0", CenterY: "0", Zoom: "1"}
	frame := fractal.Frame{Width: 8, Height: 8}
	plan, err := c.Plan(view, frame)
	require.NoError(t, err)

	_, err = c.Rebase(context.Background(), view, frame, 1, 1, fractal.RenderParams{
		Formula: fractal.FormulaMandelbrot, MaxIterations: 10, Bailout: 2, GlitchTolerance: 1e-3,
	}, plan)
	assert.Error(t, err)
}

func TestMaxInitialDeltaIsHalfTheDiagonal(t *testing.T) {
	d := maxInitialDelta(2, fractal.Frame{Width: 6, Height: 8})
	assert.InDelta(t, 10, d, 1e-12) // 2 * sqrt(3^2 + 4^2)
}
