package commands

import (
	"github.com/spf13/cobra"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/config"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/precision"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/printer"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the precision strategy for the configured view",
	Long: `Show which numerical strategy the configured view would render under,
without rendering anything: the precision mode, the reference-orbit mantissa
width, and the on-plane pixel spacing.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error("Could not load configuration", err.Error(),
			[]string{"Run 'abyss init' to create a starter abyss.yml", "Pass --config to point at another file"})
	}

	coord, err := newCoordinator(cfg)
	if err != nil {
		return printer.Error("Invalid precision configuration", err.Error(), nil)
	}

	plan, err := coord.Plan(cfg.PlaneView(), cfg.Frame())
	if err != nil {
		return printer.Error("Could not plan the view", err.Error(),
			[]string{"Check view.zoom: it must be a positive decimal within PNG-renderable depth"})
	}

	printer.Info("View:           %s + %si @ %sx\n", cfg.View.CenterX, cfg.View.CenterY, cfg.View.Zoom)
	printer.Info("Frame:          %dx%d\n", cfg.Render.Width, cfg.Render.Height)
	printer.Info("Mode:           %s\n", plan.Mode)
	printer.Info("Mantissa bits:  %d\n", plan.MantissaBits)
	printer.Info("Zoom exponent:  2^%d\n", plan.ZoomExponent)
	printer.Info("Pixel spacing:  %g\n", plan.PixelSpacing)
	if plan.SeriesOrder > 0 {
		printer.Info("Series order:   %d\n", plan.SeriesOrder)
	}
	return nil
}

func newCoordinator(cfg *config.AbyssConfig) (*precision.Coordinator, error) {
	return precision.New(precision.Config{
		PerturbationThreshold: cfg.Precision.PerturbationThreshold,
		DeepThreshold:         cfg.Precision.DeepThreshold,
		SeriesOrder:           cfg.Precision.SeriesOrder,
		SeriesTolerance:       cfg.Precision.SeriesTolerance,
	})
}
