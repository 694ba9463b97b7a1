package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// AbyssConfig represents the top-level abyss.yml configuration
type AbyssConfig struct {
	Version   string           `yaml:"version"`
	Render    RenderConfig     `yaml:"render"`
	View      ViewConfig       `yaml:"view"`
	Pool      *PoolConfig      `yaml:"pool,omitempty"`
	Precision *PrecisionConfig `yaml:"precision,omitempty"`
	Export    *ExportConfig    `yaml:"export,omitempty"`
	Stream    *StreamConfig    `yaml:"stream,omitempty"`
}

// RenderConfig specifies the formula and iteration parameters
type RenderConfig struct {
	Formula         string  `yaml:"formula"`                    // Required: mandelbrot, multibrot3, tricorn, or burning-ship
	MaxIterations   int     `yaml:"max_iterations"`             // Required: per-pixel iteration cap
	Bailout         float64 `yaml:"bailout,omitempty"`          // Escape radius (default 2.0)
	GlitchTolerance float64 `yaml:"glitch_tolerance,omitempty"` // Relative delta threshold (default 1e-3)
	TileSize        int     `yaml:"tile_size,omitempty"`        // Square tile edge in pixels (default 64)
	Width           int     `yaml:"width"`                      // Required: frame width in pixels
	Height          int     `yaml:"height"`                     // Required: frame height in pixels
}

// ViewConfig specifies where on the complex plane to render. Coordinates are
// decimal strings so that deep zooms survive the trip through YAML intact.
type ViewConfig struct {
	CenterX string `yaml:"center_x"`
	CenterY string `yaml:"center_y"`
	Zoom    string `yaml:"zoom"`
}

// PoolConfig specifies the worker pool shape
type PoolConfig struct {
	Workers      *int `yaml:"workers,omitempty"`       // Compute units (0 or absent = one per CPU)
	GlitchPasses *int `yaml:"glitch_passes,omitempty"` // Repair passes before giving up (default 3)
}

// PrecisionConfig overrides the zoom thresholds and series parameters
type PrecisionConfig struct {
	PerturbationThreshold string  `yaml:"perturbation_threshold,omitempty"` // Default 1e13
	DeepThreshold         string  `yaml:"deep_threshold,omitempty"`         // Default 1e300
	SeriesOrder           int     `yaml:"series_order,omitempty"`           // 4..8, default 6
	SeriesTolerance       float64 `yaml:"series_tolerance,omitempty"`       // Default 1e-6
}

// ExportConfig specifies image output
type ExportConfig struct {
	Path string `yaml:"path,omitempty"` // PNG output path (default render.png)
}

// StreamConfig specifies the optional Redis tile-result stream
type StreamConfig struct {
	RedisURL  string `yaml:"redis_url"`           // Required when the section is present
	Namespace string `yaml:"namespace,omitempty"` // Channel namespace (default abyss)
}

// Validate performs strict validation on the configuration and applies
// defaults to absent optional fields.
func (c *AbyssConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if err := c.Render.validate(); err != nil {
		return err
	}

	if err := c.View.toView().Validate(); err != nil {
		return fmt.Errorf("view: %w", err)
	}

	// Apply default pool config if missing
	if c.Pool == nil {
		c.Pool = &PoolConfig{}
	}
	if c.Pool.Workers == nil {
		defaultWorkers := 0
		c.Pool.Workers = &defaultWorkers
	}
	if *c.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be >= 0 (0 = one per CPU), got %d", *c.Pool.Workers)
	}
	if c.Pool.GlitchPasses == nil {
		defaultPasses := 3
		c.Pool.GlitchPasses = &defaultPasses
	}
	if *c.Pool.GlitchPasses < 0 {
		return fmt.Errorf("pool.glitch_passes must be >= 0, got %d", *c.Pool.GlitchPasses)
	}

	if c.Precision == nil {
		c.Precision = &PrecisionConfig{}
	}

	if c.Export == nil {
		c.Export = &ExportConfig{}
	}
	if c.Export.Path == "" {
		c.Export.Path = "render.png"
	}

	// Stream is opt-in: validated only when the section is present
	if c.Stream != nil {
		if c.Stream.RedisURL == "" {
			return fmt.Errorf("stream.redis_url is required when the stream section is present")
		}
		if c.Stream.Namespace == "" {
			c.Stream.Namespace = "abyss"
		}
	}

	return nil
}

func (r *RenderConfig) validate() error {
	// Required: formula
	if r.Formula == "" {
		return fmt.Errorf("render.formula is required")
	}
	if err := fractal.Formula(r.Formula).Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	if r.MaxIterations < 1 {
		return fmt.Errorf("render.max_iterations must be >= 1, got %d", r.MaxIterations)
	}
	if r.Width < 1 || r.Height < 1 {
		return fmt.Errorf("render frame must be at least 1x1, got %dx%d", r.Width, r.Height)
	}

	// Apply defaults
	if r.Bailout == 0 {
		r.Bailout = 2.0
	}
	if r.Bailout < 2 {
		return fmt.Errorf("render.bailout must be >= 2, got %g", r.Bailout)
	}
	if r.GlitchTolerance == 0 {
		r.GlitchTolerance = 1e-3
	}
	if r.GlitchTolerance < 0 || r.GlitchTolerance >= 1 {
		return fmt.Errorf("render.glitch_tolerance must be in (0,1), got %g", r.GlitchTolerance)
	}
	if r.TileSize == 0 {
		r.TileSize = 64
	}
	if r.TileSize < 1 {
		return fmt.Errorf("render.tile_size must be >= 1, got %d", r.TileSize)
	}

	return nil
}

// Params assembles the iteration parameters from the render section.
func (c *AbyssConfig) Params() fractal.RenderParams {
	return fractal.RenderParams{
		Formula:         fractal.Formula(c.Render.Formula),
		MaxIterations:   c.Render.MaxIterations,
		Bailout:         c.Render.Bailout,
		GlitchTolerance: c.Render.GlitchTolerance,
	}
}

// Frame returns the pixel viewport from the render section.
func (c *AbyssConfig) Frame() fractal.Frame {
	return fractal.Frame{Width: c.Render.Width, Height: c.Render.Height}
}

// PlaneView returns the plane position from the view section.
func (c *AbyssConfig) PlaneView() fractal.View {
	return c.View.toView()
}

func (v *ViewConfig) toView() fractal.View {
	return fractal.View{CenterX: v.CenterX, CenterY: v.CenterY, Zoom: v.Zoom}
}

// Load reads and validates abyss.yml from the specified path
func Load(path string) (*AbyssConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config AbyssConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
