package fractal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormulaValidate(t *testing.T) {
	tests := []struct {
		name    string
		formula Formula
		wantErr bool
	}{
		{name: "mandelbrot is valid", formula: FormulaMandelbrot, wantErr: false},
		{name: "multibrot3 is valid", formula: FormulaMultibrot3, wantErr: false},
		{name: "tricorn is valid", formula: FormulaTricorn, wantErr: false},
		{name: "burning ship is valid", formula: FormulaBurningShip, wantErr: false},
		{name: "empty is invalid", formula: Formula(""), wantErr: true},
		{name: "unknown is invalid", formula: Formula("julia"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.formula.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPriorityOrdering(t *testing.T) {
	assert.Greater(t, PriorityHigh.Rank(), PriorityNormal.Rank())
	assert.Greater(t, PriorityNormal.Rank(), PriorityLow.Rank())

	assert.NoError(t, PriorityHigh.Validate())
	assert.NoError(t, PriorityNormal.Validate())
	assert.NoError(t, PriorityLow.Validate())
	assert.Error(t, Priority("urgent").Validate())
}

func TestRenderParamsValidate(t *testing.T) {
	valid := RenderParams{
		Formula:         FormulaMandelbrot,
		MaxIterations:   1000,
		Bailout:         2,
		GlitchTolerance: 0.25,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*RenderParams)
	}{
		{name: "zero iterations", mutate: func(p *RenderParams) { p.MaxIterations = 0 }},
		{name: "bailout below escape radius", mutate: func(p *RenderParams) { p.Bailout = 1.5 }},
		{name: "zero glitch tolerance", mutate: func(p *RenderParams) { p.GlitchTolerance = 0 }},
		{name: "glitch tolerance at one", mutate: func(p *RenderParams) { p.GlitchTolerance = 1 }},
		{name: "unknown formula", mutate: func(p *RenderParams) { p.Formula = "nope" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestTileKeyAndValidate(t *testing.T) {
	m := PlaneMap{OriginRe: -2, OriginIm: 2, Step: 0.01}

	tile := Tile{X0: 64, Y0: 128, Width: 64, Height: 64, Map: m}
	require.NoError(t, tile.Validate())
	assert.Equal(t, "64,128", tile.Key())
	assert.Equal(t, 4096, tile.Pixels())

	bad := tile
	bad.Width = 0
	assert.Error(t, bad.Validate())

	bad = tile
	bad.X0 = -1
	assert.Error(t, bad.Validate())

	bad = tile
	bad.Map.Step = 0
	assert.Error(t, bad.Validate())
}

func TestTileResultValidate(t *testing.T) {
	tile := Tile{X0: 0, Y0: 0, Width: 4, Height: 2, Map: PlaneMap{Step: 0.5, OriginRe: -1, OriginIm: 1}}

	res := TileResult{TaskID: "t1", Tile: tile, Iterations: make([]int32, 8)}
	require.NoError(t, res.Validate())

	short := res
	short.Iterations = make([]int32, 7)
	assert.Error(t, short.Validate())

	anonymous := res
	anonymous.TaskID = ""
	assert.Error(t, anonymous.Validate())
}

func TestViewValidate(t *testing.T) {
	v := View{CenterX: "-0.75", CenterY: "0.1", Zoom: "1e20"}
	require.NoError(t, v.Validate())

	assert.Error(t, View{CenterX: "", CenterY: "0", Zoom: "1"}.Validate())
	assert.Error(t, View{CenterX: "0", CenterY: "0", Zoom: ""}.Validate())
}

func TestSeriesCoefficientsValidate(t *testing.T) {
	ok := SeriesCoefficients{Coefficients: []complex128{1, 0, 0}, SkipIteration: 12}
	require.NoError(t, ok.Validate())

	assert.Error(t, (&SeriesCoefficients{SkipIteration: -1}).Validate())
	assert.Error(t, (&SeriesCoefficients{SkipIteration: 3}).Validate())
	assert.NoError(t, (&SeriesCoefficients{SkipIteration: 0}).Validate())
}
