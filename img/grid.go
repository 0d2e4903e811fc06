package img

import (
	"fmt"
	"image"
	"image/color"

	"github.com/JuanCldCmt/ML-mini-project/num"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Grid layout settings
var (
	GridColumns = 4
	GridBorder  = 3
	GridCaption = 16
)

var (
	Correct    = color.RGBA{R: 0, G: 160, B: 0, A: 255}
	Incorrect  = color.RGBA{R: 200, G: 0, B: 0, A: 255}
	Background = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// MakeGrid arranges the images in rows with the given number of columns. Each cell is the
// size of the largest image plus a border of pad pixels.
func MakeGrid(images []image.Image, cols, pad int) *image.RGBA {
	if len(images) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	cols = min(max(cols, 1), len(images))
	rows := (len(images) + cols - 1) / cols
	var cw, ch int
	for _, m := range images {
		cw = max(cw, m.Bounds().Dx())
		ch = max(ch, m.Bounds().Dy())
	}
	cw += 2 * pad
	ch += 2 * pad
	dst := image.NewRGBA(image.Rect(0, 0, cols*cw, rows*ch))
	draw.Draw(dst, dst.Rect, image.NewUniform(Background), image.Point{}, draw.Src)
	for i, m := range images {
		x, y := (i%cols)*cw+pad, (i/cols)*ch+pad
		draw.Draw(dst, m.Bounds().Sub(m.Bounds().Min).Add(image.Pt(x, y)), m, m.Bounds().Min, draw.Src)
	}
	return dst
}

// PredictionGrid draws each input image with a caption giving the predicted probability and the
// actual label. The border is green if the prediction matches the label and red otherwise.
// x has shape [n, 3, height, width].
func PredictionGrid(x *num.Array, labels, pred []float32) image.Image {
	dims := x.Dims()
	if len(dims) != 4 || dims[1] != 3 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	n, h, w := dims[0], dims[2], dims[3]
	cells := make([]image.Image, n)
	for i := range cells {
		ok := (pred[i] > 0.5) == (labels[i] > 0.5)
		cells[i] = predictionCell(FromPixels(x.Row(i), w, h), fmt.Sprintf("%.2f / %.0f", pred[i], labels[i]), ok)
	}
	return MakeGrid(cells, GridColumns, 2)
}

func predictionCell(m *Image, caption string, ok bool) *image.RGBA {
	b := GridBorder
	cell := image.NewRGBA(image.Rect(0, 0, m.Width+2*b, m.Height+2*b+GridCaption))
	border := Incorrect
	if ok {
		border = Correct
	}
	draw.Draw(cell, cell.Rect, image.NewUniform(Background), image.Point{}, draw.Src)
	draw.Draw(cell, image.Rect(0, 0, m.Width+2*b, m.Height+2*b), image.NewUniform(border), image.Point{}, draw.Src)
	draw.Draw(cell, image.Rect(b, b, b+m.Width, b+m.Height), m, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  cell,
		Src:  image.NewUniform(border),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(b, m.Height+2*b+GridCaption-4),
	}
	d.DrawString(caption)
	return cell
}
