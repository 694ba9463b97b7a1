package stream

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by render session to
// enable multiple renders to safely share a single Redis server.
//
// Key pattern: {namespace}:{session}:{entity}:{id}
// Channel pattern: {namespace}:{session}:{event_type}_events

// TileKey returns the Redis key for a tile result summary hash.
// Pattern: {namespace}:{session}:tile:{x0,y0}
func TileKey(namespace, session, tileKey string) string {
	return fmt.Sprintf("%s:%s:tile:%s", namespace, session, tileKey)
}

// TileEventsChannel returns the Pub/Sub channel for tile completion events.
// Pattern: {namespace}:{session}:tile_events
func TileEventsChannel(namespace, session string) string {
	return fmt.Sprintf("%s:%s:tile_events", namespace, session)
}

// RenderEventsChannel returns the Pub/Sub channel for render lifecycle events.
// Pattern: {namespace}:{session}:render_events
func RenderEventsChannel(namespace, session string) string {
	return fmt.Sprintf("%s:%s:render_events", namespace, session)
}
