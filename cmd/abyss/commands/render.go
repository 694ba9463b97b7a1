package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/compute"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/config"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/printer"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/render"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/scheduler"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/stream"
)

var (
	outputPath string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the configured view to a PNG",
	Long: `Render the configured view end to end: plan the precision strategy,
compute reference data if the zoom requires it, fan tiles out over the worker
pool, repair glitched pixels, and write the result as a PNG.

Interrupting with Ctrl-C cancels all outstanding tiles and exits cleanly.`,
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&outputPath, "output", "o", "", "PNG output path (overrides export.path)")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error("Could not load configuration", err.Error(),
			[]string{"Run 'abyss init' to create a starter abyss.yml", "Pass --config to point at another file"})
	}

	coord, err := newCoordinator(cfg)
	if err != nil {
		return printer.Error("Invalid precision configuration", err.Error(), nil)
	}

	pool, err := scheduler.New(scheduler.Config{
		Workers: *cfg.Pool.Workers,
		NewUnit: compute.Factory(),
	})
	if err != nil {
		return printer.Error("Could not start the worker pool", err.Error(), nil)
	}
	defer pool.Close()

	var sink stream.Sink
	if cfg.Stream != nil {
		redisSink, err := stream.NewRedisSink(cfg.Stream.RedisURL, cfg.Stream.Namespace)
		if err != nil {
			return printer.Error("Could not connect the result stream", err.Error(),
				[]string{"Check stream.redis_url", "Remove the stream section to render without Redis"})
		}
		defer redisSink.Close()
		sink = redisSink
	}

	driver, err := render.New(pool, coord, render.Config{
		TileSize:     cfg.Render.TileSize,
		GlitchPasses: *cfg.Pool.GlitchPasses,
		Sink:         sink,
		OnProgress: func(done, total int) {
			printer.Progress("rendering", float64(done)/float64(total))
		},
	})
	if err != nil {
		return printer.Error("Could not build the render driver", err.Error(), nil)
	}

	// Ctrl-C cancels every outstanding tile
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := cfg.PlaneView()
	frame := cfg.Frame()
	params := cfg.Params()

	printer.Step("Rendering %dx%d at zoom %s (%s)\n", frame.Width, frame.Height, view.Zoom, params.Formula)

	res, err := driver.Render(ctx, view, frame, params)
	printer.ProgressDone()
	if err != nil {
		if ctx.Err() != nil {
			printer.Warning("Render cancelled\n")
			return err
		}
		return printer.Error("Render failed", err.Error(), nil)
	}

	path := outputPath
	if path == "" {
		path = cfg.Export.Path
	}
	if err := res.Canvas.WritePNG(path, params.MaxIterations); err != nil {
		return printer.Error("Could not write the output image", err.Error(), nil)
	}

	printer.Success("Rendered %d tiles in %s (mode: %s)\n", res.Tiles, res.Elapsed.Round(time.Millisecond), res.Plan.Mode)
	if res.Passes > 0 {
		printer.Info("Glitch repair:  %d pass(es), %d pixel(s) left best-effort\n", res.Passes, len(res.Unrepaired))
	}
	if len(res.Unrepaired) > 0 {
		printer.Warning("%d pixel(s) could not be fully repaired; consider raising pool.glitch_passes\n", len(res.Unrepaired))
	}
	printer.Info("Wrote %s\n", path)

	stats := pool.Stats()
	if stats.Dead > 0 {
		printer.Warning("%d worker slot(s) died during the render\n", stats.Dead)
	}
	return nil
}
