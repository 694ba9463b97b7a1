// Package export assembles completed tile results into a full-frame
// iteration canvas and encodes it as a PNG.
package export

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// Canvas is the frame-sized iteration buffer results are merged into. It is
// not safe for concurrent use; the render driver owns it and merges results
// as handles resolve.
type Canvas struct {
	frame      fractal.Frame
	iterations []int32
}

// NewCanvas creates an empty canvas for a frame.
func NewCanvas(frame fractal.Frame) (*Canvas, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return &Canvas{
		frame:      frame,
		iterations: make([]int32, frame.Width*frame.Height),
	}, nil
}

// Frame returns the canvas dimensions.
func (c *Canvas) Frame() fractal.Frame { return c.frame }

// Place merges a complete tile result into the canvas. The tile must lie
// fully inside the frame.
func (c *Canvas) Place(res *fractal.TileResult) error {
	if err := res.Validate(); err != nil {
		return fmt.Errorf("invalid tile result: %w", err)
	}
	t := res.Tile
	if t.X0 < 0 || t.Y0 < 0 || t.X0+t.Width > c.frame.Width || t.Y0+t.Height > c.frame.Height {
		return fmt.Errorf("tile %s (%dx%d) does not fit the %dx%d frame",
			t.Key(), t.Width, t.Height, c.frame.Width, c.frame.Height)
	}

	for row := 0; row < t.Height; row++ {
		src := res.Iterations[row*t.Width : (row+1)*t.Width]
		dst := c.iterations[(t.Y0+row)*c.frame.Width+t.X0:]
		copy(dst[:t.Width], src)
	}
	return nil
}

// PlacePixels merges only the listed frame pixels from a tile result,
// leaving the rest of the canvas untouched. Used by glitch repair, which
// recomputes a bounding box but must only overwrite the pixels that actually
// glitched.
func (c *Canvas) PlacePixels(res *fractal.TileResult, pixels []fractal.GlitchRecord) error {
	if err := res.Validate(); err != nil {
		return fmt.Errorf("invalid tile result: %w", err)
	}
	t := res.Tile
	for _, p := range pixels {
		if p.PixelX < t.X0 || p.PixelX >= t.X0+t.Width || p.PixelY < t.Y0 || p.PixelY >= t.Y0+t.Height {
			return fmt.Errorf("pixel (%d,%d) lies outside tile %s", p.PixelX, p.PixelY, t.Key())
		}
		if p.PixelX >= c.frame.Width || p.PixelY >= c.frame.Height {
			return fmt.Errorf("pixel (%d,%d) lies outside the %dx%d frame",
				p.PixelX, p.PixelY, c.frame.Width, c.frame.Height)
		}
		n := res.Iterations[(p.PixelY-t.Y0)*t.Width+(p.PixelX-t.X0)]
		c.iterations[p.PixelY*c.frame.Width+p.PixelX] = n
	}
	return nil
}

// At returns the iteration count at a frame pixel.
func (c *Canvas) At(px, py int) int32 {
	return c.iterations[py*c.frame.Width+px]
}

// Image renders the canvas with a cyclic palette: interior pixels (at the
// iteration cap) are black, escaped pixels shade by escape time.
func (c *Canvas) Image(maxIterations int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, c.frame.Width, c.frame.Height))
	for py := 0; py < c.frame.Height; py++ {
		for px := 0; px < c.frame.Width; px++ {
			img.Set(px, py, pixelColor(c.At(px, py), maxIterations))
		}
	}
	return img
}

// EncodePNG writes the rendered canvas as a PNG stream.
func (c *Canvas) EncodePNG(w io.Writer, maxIterations int) error {
	if err := png.Encode(w, c.Image(maxIterations)); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}

// WritePNG renders the canvas to a PNG file.
func (c *Canvas) WritePNG(path string, maxIterations int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := c.EncodePNG(f, maxIterations); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// pixelColor maps an escape time onto a 256-entry blue-gold cycle.
func pixelColor(n int32, maxIterations int) color.RGBA {
	if int(n) >= maxIterations {
		return color.RGBA{A: 255}
	}
	t := int(n) % 256
	if t < 128 {
		v := uint8(t * 2)
		return color.RGBA{R: v / 4, G: v / 2, B: v, A: 255}
	}
	v := uint8((t - 128) * 2)
	return color.RGBA{R: 255 - v/8, G: 200 - v/4, B: 64, A: 255}
}
