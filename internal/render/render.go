// Package render drives a full-frame render end to end: it asks the
// precision coordinator for a plan and reference data, broadcasts through the
// scheduler, partitions the frame into tiles, merges results into a canvas,
// and runs bounded glitch-repair passes over pixels the perturbation pass
// could not resolve.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/export"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/precision"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/scheduler"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/internal/stream"
	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// Config configures a render driver.
type Config struct {
	TileSize     int         // Square tile edge in pixels (default 64)
	GlitchPasses int         // Repair passes before leaving best-effort pixels (default 3)
	Sink         stream.Sink // Optional: receives tile and lifecycle events
	OnProgress   func(completedTiles, totalTiles int)
}

// Result is the outcome of one full render.
type Result struct {
	Session    string                 // Render session id
	Canvas     *export.Canvas         // Fully merged iteration canvas
	Plan       precision.Plan         // Precision decision the render ran under
	Passes     int                    // Repair passes actually executed
	Tiles      int                    // Tiles in the main pass
	Unrepaired []fractal.GlitchRecord // Glitches left after the final pass, best-effort values
	Elapsed    time.Duration
}

// Driver renders frames. It owns neither the scheduler nor the coordinator;
// callers construct those explicitly and may share them across renders.
type Driver struct {
	sched        *scheduler.Scheduler
	coord        *precision.Coordinator
	tileSize     int
	glitchPasses int
	sink         stream.Sink
	onProgress   func(done, total int)
}

// New creates a render driver.
func New(sched *scheduler.Scheduler, coord *precision.Coordinator, cfg Config) (*Driver, error) {
	if sched == nil || coord == nil {
		return nil, fmt.Errorf("render driver requires a scheduler and a coordinator")
	}
	if cfg.TileSize == 0 {
		cfg.TileSize = 64
	}
	if cfg.TileSize < 1 {
		return nil, fmt.Errorf("tile size must be >= 1, got %d", cfg.TileSize)
	}
	if cfg.GlitchPasses == 0 {
		cfg.GlitchPasses = 3
	}
	if cfg.GlitchPasses < 0 {
		return nil, fmt.Errorf("glitch passes must be >= 0, got %d", cfg.GlitchPasses)
	}
	return &Driver{
		sched:        sched,
		coord:        coord,
		tileSize:     cfg.TileSize,
		glitchPasses: cfg.GlitchPasses,
		sink:         cfg.Sink,
		onProgress:   cfg.OnProgress,
	}, nil
}

// Render runs the full pipeline for one view. Cancelling the context cancels
// every outstanding task and returns the context error.
func (d *Driver) Render(ctx context.Context, view fractal.View, frame fractal.Frame, params fractal.RenderParams) (*Result, error) {
	start := time.Now()
	session := uuid.New().String()

	broadcast, err := d.coord.Prepare(ctx, view, frame, params)
	if err != nil {
		return nil, fmt.Errorf("preparing precision data: %w", err)
	}
	d.sched.SetReferenceOrbit(broadcast.Orbit)
	d.sched.SetSeriesCoefficients(broadcast.Series)

	m, err := fractal.PlaneMapFor(view, frame)
	if err != nil {
		return nil, err
	}
	tiles, err := fractal.PartitionFrame(frame, d.tileSize, m)
	if err != nil {
		return nil, err
	}

	canvas, err := export.NewCanvas(frame)
	if err != nil {
		return nil, err
	}

	d.logEvent("render_started", map[string]interface{}{
		"session": session,
		"mode":    string(broadcast.Plan.Mode),
		"tiles":   len(tiles),
		"frame":   fmt.Sprintf("%dx%d", frame.Width, frame.Height),
	})
	d.publishEvent(ctx, stream.RenderEvent{
		Type: stream.EventRenderStarted, Session: session, Tiles: len(tiles),
	})

	handles, err := d.sched.SubmitBatch(tiles, params, fractal.PriorityNormal)
	if err != nil {
		d.sched.CancelAll()
		d.failEvent(ctx, session, err)
		return nil, fmt.Errorf("submitting main pass: %w", err)
	}

	glitches, err := d.awaitMainPass(ctx, session, canvas, handles)
	if err != nil {
		d.failEvent(ctx, session, err)
		return nil, err
	}

	passes := 0
	for pass := 1; pass <= d.glitchPasses && len(glitches) > 0; pass++ {
		passes = pass
		glitches, err = d.repairPass(ctx, session, view, frame, params, broadcast.Plan, canvas, glitches)
		if err != nil {
			d.failEvent(ctx, session, err)
			return nil, fmt.Errorf("glitch repair pass %d: %w", pass, err)
		}
		d.logEvent("repair_pass_completed", map[string]interface{}{
			"session":   session,
			"pass":      pass,
			"remaining": len(glitches),
		})
		d.publishEvent(ctx, stream.RenderEvent{
			Type: stream.EventPassCompleted, Session: session, Pass: pass, Glitches: len(glitches),
		})
	}

	res := &Result{
		Session:    session,
		Canvas:     canvas,
		Plan:       broadcast.Plan,
		Passes:     passes,
		Tiles:      len(tiles),
		Unrepaired: glitches,
		Elapsed:    time.Since(start),
	}
	d.logEvent("render_completed", map[string]interface{}{
		"session":    session,
		"passes":     passes,
		"unrepaired": len(glitches),
		"elapsed_ms": res.Elapsed.Milliseconds(),
	})
	d.publishEvent(ctx, stream.RenderEvent{
		Type: stream.EventRenderCompleted, Session: session, Pass: passes, Glitches: len(glitches),
	})
	return res, nil
}

// awaitMainPass waits for the whole tile batch, merging each completed result
// and pooling glitch records for repair. The first failure cancels the rest
// of the batch.
func (d *Driver) awaitMainPass(ctx context.Context, session string, canvas *export.Canvas, handles []*scheduler.Handle) ([]fractal.GlitchRecord, error) {
	var glitches []fractal.GlitchRecord
	total := len(handles)

	for i, h := range handles {
		select {
		case <-ctx.Done():
			d.sched.CancelAll()
			return nil, ctx.Err()
		case <-h.Done():
		}

		res, err := h.Result()
		if err != nil {
			d.sched.CancelAll()
			return nil, fmt.Errorf("tile %s: %w", h.TileKey(), err)
		}
		if err := canvas.Place(res); err != nil {
			d.sched.CancelAll()
			return nil, err
		}
		glitches = append(glitches, res.Glitches...)

		d.publishTile(ctx, session, res)
		if d.onProgress != nil {
			d.onProgress(i+1, total)
		}
	}
	return glitches, nil
}

// repairPass re-renders each glitch cluster against a local reference orbit
// seeded inside the cluster, merging only the previously glitched pixels.
// Returns the glitches that persist, for the next pass.
func (d *Driver) repairPass(ctx context.Context, session string, view fractal.View, frame fractal.Frame, params fractal.RenderParams, plan precision.Plan, canvas *export.Canvas, glitches []fractal.GlitchRecord) ([]fractal.GlitchRecord, error) {
	m, err := fractal.PlaneMapFor(view, frame)
	if err != nil {
		return nil, err
	}

	type repair struct {
		handle  *scheduler.Handle
		cluster []fractal.GlitchRecord
	}
	var repairs []repair

	for _, cluster := range clusterGlitches(glitches, d.tileSize) {
		seed := seedPixel(cluster)
		orbit, err := d.coord.Rebase(ctx, view, frame, seed.PixelX, seed.PixelY, params, plan)
		if err != nil {
			return nil, err
		}

		box := boundingTile(cluster, m)
		h, err := d.sched.SubmitWithReference(box, params, fractal.PriorityHigh, orbit, nil)
		if err != nil {
			return nil, err
		}
		repairs = append(repairs, repair{handle: h, cluster: cluster})
	}

	var remaining []fractal.GlitchRecord
	for _, r := range repairs {
		select {
		case <-ctx.Done():
			d.sched.CancelAll()
			return nil, ctx.Err()
		case <-r.handle.Done():
		}

		res, err := r.handle.Result()
		if err != nil {
			d.sched.CancelAll()
			return nil, err
		}

		// Merge every cluster pixel: repaired values are final, re-glitched
		// pixels keep their new best-effort count while staying on the list.
		if err := canvas.PlacePixels(res, r.cluster); err != nil {
			return nil, err
		}

		still := make(map[[2]int]bool, len(res.Glitches))
		for _, g := range res.Glitches {
			still[[2]int{g.PixelX, g.PixelY}] = true
		}
		for _, g := range r.cluster {
			if still[[2]int{g.PixelX, g.PixelY}] {
				remaining = append(remaining, g)
			}
		}
	}
	return remaining, nil
}

// clusterGlitches buckets glitch records into grid cells of the tile size,
// so each repair task stays within one re-seeded reference's neighbourhood.
func clusterGlitches(glitches []fractal.GlitchRecord, tileSize int) [][]fractal.GlitchRecord {
	buckets := make(map[[2]int][]fractal.GlitchRecord)
	var order [][2]int
	for _, g := range glitches {
		cell := [2]int{g.PixelX / tileSize, g.PixelY / tileSize}
		if _, seen := buckets[cell]; !seen {
			order = append(order, cell)
		}
		buckets[cell] = append(buckets[cell], g)
	}

	clusters := make([][]fractal.GlitchRecord, 0, len(order))
	for _, cell := range order {
		clusters = append(clusters, buckets[cell])
	}
	return clusters
}

// seedPixel picks the glitch closest to the cluster centroid as the local
// reference point.
func seedPixel(cluster []fractal.GlitchRecord) fractal.GlitchRecord {
	var sx, sy int
	for _, g := range cluster {
		sx += g.PixelX
		sy += g.PixelY
	}
	cx := float64(sx) / float64(len(cluster))
	cy := float64(sy) / float64(len(cluster))

	best := cluster[0]
	bestDist := -1.0
	for _, g := range cluster {
		dx := float64(g.PixelX) - cx
		dy := float64(g.PixelY) - cy
		dist := dx*dx + dy*dy
		if bestDist < 0 || dist < bestDist {
			best = g
			bestDist = dist
		}
	}
	return best
}

// boundingTile is the smallest tile covering every glitch in the cluster.
func boundingTile(cluster []fractal.GlitchRecord, m fractal.PlaneMap) fractal.Tile {
	minX, minY := cluster[0].PixelX, cluster[0].PixelY
	maxX, maxY := minX, minY
	for _, g := range cluster[1:] {
		if g.PixelX < minX {
			minX = g.PixelX
		}
		if g.PixelX > maxX {
			maxX = g.PixelX
		}
		if g.PixelY < minY {
			minY = g.PixelY
		}
		if g.PixelY > maxY {
			maxY = g.PixelY
		}
	}
	return fractal.Tile{
		X0:     minX,
		Y0:     minY,
		Width:  maxX - minX + 1,
		Height: maxY - minY + 1,
		Map:    m,
	}
}

func (d *Driver) publishTile(ctx context.Context, session string, res *fractal.TileResult) {
	if d.sink == nil {
		return
	}
	if err := d.sink.PublishTile(ctx, session, res); err != nil {
		d.logEvent("sink_publish_failed", map[string]interface{}{
			"session": session,
			"tile":    res.Tile.Key(),
			"error":   err.Error(),
		})
	}
}

func (d *Driver) publishEvent(ctx context.Context, ev stream.RenderEvent) {
	if d.sink == nil {
		return
	}
	if err := d.sink.PublishEvent(ctx, ev); err != nil {
		d.logEvent("sink_publish_failed", map[string]interface{}{
			"session": ev.Session,
			"error":   err.Error(),
		})
	}
}

func (d *Driver) failEvent(ctx context.Context, session string, cause error) {
	d.publishEvent(ctx, stream.RenderEvent{
		Type: stream.EventRenderFailed, Session: session, Error: cause.Error(),
	})
}

// logEvent logs a structured event in JSON format.
func (d *Driver) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "render"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Render] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
