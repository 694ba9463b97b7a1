package fractal

import "fmt"

// PartitionFrame splits a frame into tiles of at most tileSize pixels per
// side, row-major from the top-left corner. Edge tiles shrink to fit, so the
// returned tiles cover every frame pixel exactly once.
func PartitionFrame(frame Frame, tileSize int, m PlaneMap) ([]Tile, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if tileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", tileSize)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var tiles []Tile
	for y := 0; y < frame.Height; y += tileSize {
		h := tileSize
		if y+h > frame.Height {
			h = frame.Height - y
		}
		for x := 0; x < frame.Width; x += tileSize {
			w := tileSize
			if x+w > frame.Width {
				w = frame.Width - x
			}
			tiles = append(tiles, Tile{X0: x, Y0: y, Width: w, Height: h, Map: m})
		}
	}
	return tiles, nil
}
