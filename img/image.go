// Package img contains routines for loading and manipulating sets of images.
package img

import (
	"image"
	"image/color"
	"image/draw"
)

var RGBModel = color.ModelFunc(rgbModel)

// RGB color is stored as a float for each channel with values in range 0-1
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R, 0, 1), clampu(c.G, 0, 1), clampu(c.B, 0, 1), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff}
}

// Image type stores the image data as float32 values with the r, g and b color planes
// stored separately, each plane in row major order. This is the [channels, height, width]
// layout used for network inputs.
type Image struct {
	Pix    []float32
	Height int
	Width  int
}

var _ draw.Image = (*Image)(nil)

func NewImage(width, height int) *Image {
	return &Image{Pix: make([]float32, height*width*3), Height: height, Width: width}
}

// FromPixels wraps an existing [3, height, width] slice as an image.
func FromPixels(pix []float32, width, height int) *Image {
	return &Image{Pix: pix, Height: height, Width: width}
}

// Convert copies any image to a new float image of the same size.
func Convert(src image.Image) *Image {
	b := src.Bounds()
	dst := NewImage(b.Dx(), b.Dy())
	plane := dst.Width * dst.Height
	switch m := src.(type) {
	case *image.RGBA:
		for y := 0; y < dst.Height; y++ {
			row := m.Pix[y*m.Stride:]
			for x := 0; x < dst.Width; x++ {
				pos := y*dst.Width + x
				dst.Pix[pos] = float32(row[4*x]) / 255
				dst.Pix[plane+pos] = float32(row[4*x+1]) / 255
				dst.Pix[2*plane+pos] = float32(row[4*x+2]) / 255
			}
		}
	default:
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	}
	return dst
}

func (m *Image) Channels() int {
	return 3
}

func (m *Image) ColorModel() color.Model {
	return RGBModel
}

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *Image) RGBAt(x, y int) RGB {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return RGB{}
	}
	pos, plane := y*m.Width+x, m.Width*m.Height
	return RGB{R: m.Pix[pos], G: m.Pix[pos+plane], B: m.Pix[pos+2*plane]}
}

func (m *Image) At(x, y int) color.Color {
	return m.RGBAt(x, y)
}

func (m *Image) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	rgb := rgbModel(c).(RGB)
	pos, plane := y*m.Width+x, m.Width*m.Height
	m.Pix[pos] = rgb.R
	m.Pix[pos+plane] = rgb.G
	m.Pix[pos+2*plane] = rgb.B
}

// Pixels returns the data for one colour channel, or all channels if ch is out of range.
func (m *Image) Pixels(ch int) []float32 {
	if ch >= 0 && ch <= 2 {
		return m.Pix[ch*m.Width*m.Height : (ch+1)*m.Width*m.Height]
	}
	return m.Pix
}

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}
