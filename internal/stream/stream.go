// Package stream publishes render output as it lands: tile results as each
// task completes, plus lifecycle events for the render as a whole. A sink is
// optional; the render driver works identically with none attached.
package stream

import (
	"context"
	"time"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// Event types published to the render events channel.
const (
	EventRenderStarted   = "render_started"
	EventPassCompleted   = "pass_completed"
	EventRenderCompleted = "render_completed"
	EventRenderFailed    = "render_failed"
)

// RenderEvent is one lifecycle event for a render session.
type RenderEvent struct {
	Type      string    `json:"type"`                // One of the Event* constants
	Session   string    `json:"session"`             // Render session id
	Pass      int       `json:"pass"`                // 0 for the main pass, 1.. for repair passes
	Tiles     int       `json:"tiles"`               // Tiles involved in this pass
	Glitches  int       `json:"glitches"`            // Glitched pixels outstanding after the pass
	Error     string    `json:"error,omitempty"`     // Present on render_failed
	Timestamp time.Time `json:"timestamp"`
}

// TileEvent is the published summary of one completed tile. The iteration
// buffer itself stays out of the event; subscribers that need pixel data read
// the summary hash and fetch selectively.
type TileEvent struct {
	Session   string    `json:"session"`
	TaskID    string    `json:"task_id"`
	Tile      string    `json:"tile"`       // Tile key, "x0,y0"
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Glitches  int       `json:"glitches"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives render output as it is produced.
type Sink interface {
	PublishTile(ctx context.Context, session string, res *fractal.TileResult) error
	PublishEvent(ctx context.Context, ev RenderEvent) error
	Close() error
}

// ChannelSink delivers tile events to an in-process channel, for embedding
// the renderer behind a UI without a Redis round trip. Events are dropped
// rather than blocking the render when the consumer falls behind.
type ChannelSink struct {
	tiles  chan TileEvent
	events chan RenderEvent
}

// NewChannelSink creates a ChannelSink with the given buffer size per
// channel.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{
		tiles:  make(chan TileEvent, buffer),
		events: make(chan RenderEvent, buffer),
	}
}

// Tiles returns the tile event channel.
func (s *ChannelSink) Tiles() <-chan TileEvent { return s.tiles }

// Events returns the lifecycle event channel.
func (s *ChannelSink) Events() <-chan RenderEvent { return s.events }

// PublishTile delivers the tile summary unless the buffer is full.
func (s *ChannelSink) PublishTile(ctx context.Context, session string, res *fractal.TileResult) error {
	ev := TileEvent{
		Session:   session,
		TaskID:    res.TaskID,
		Tile:      res.Tile.Key(),
		Width:     res.Tile.Width,
		Height:    res.Tile.Height,
		Glitches:  len(res.Glitches),
		ElapsedMS: res.Elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	select {
	case s.tiles <- ev:
	default:
	}
	return nil
}

// PublishEvent delivers the lifecycle event unless the buffer is full.
func (s *ChannelSink) PublishEvent(ctx context.Context, ev RenderEvent) error {
	select {
	case s.events <- ev:
	default:
	}
	return nil
}

// Close closes both channels. Publish must not be called afterwards.
func (s *ChannelSink) Close() error {
	close(s.tiles)
	close(s.events)
	return nil
}
