package num

import "fmt"

// ConvOutSize returns the output size along one axis for a convolution.
func ConvOutSize(in, size, stride, pad int) int {
	return (in+2*pad-size)/stride + 1
}

// PoolOutSize returns the output size along one axis for a pooling layer, any partial window is dropped.
func PoolOutSize(in, size, stride int) int {
	return (in-size)/stride + 1
}

// ConvGeom holds the geometry of a 2d convolution on a single image of depth C and size H x W.
type ConvGeom struct {
	C, H, W      int
	Size, Stride int
	Pad          int
	OutH, OutW   int
}

// NewConvGeom validates the parameters and calculates the output size.
func NewConvGeom(c, h, w, size, stride, pad int) (ConvGeom, error) {
	g := ConvGeom{C: c, H: h, W: w, Size: size, Stride: stride, Pad: pad}
	if size < 1 || stride < 1 || pad < 0 {
		return g, fmt.Errorf("invalid conv params: size=%d stride=%d pad=%d", size, stride, pad)
	}
	if h+2*pad < size || w+2*pad < size {
		return g, fmt.Errorf("conv kernel %d too large for %dx%d input with padding %d", size, h, w, pad)
	}
	g.OutH = ConvOutSize(h, size, stride, pad)
	g.OutW = ConvOutSize(w, size, stride, pad)
	return g, nil
}

// ColRows is the number of rows in the column matrix: C * Size * Size.
func (g ConvGeom) ColRows() int { return g.C * g.Size * g.Size }

// ColCols is the number of columns in the column matrix: OutH * OutW.
func (g ConvGeom) ColCols() int { return g.OutH * g.OutW }

// Im2Col unpacks the receptive field of each output position into a column of col which
// has shape [C*Size*Size, OutH*OutW]. Positions in the padding are set to zero.
func (g ConvGeom) Im2Col(src, col []float32) {
	ncol := g.ColCols()
	for c := 0; c < g.C; c++ {
		plane := src[c*g.H*g.W : (c+1)*g.H*g.W]
		for ky := 0; ky < g.Size; ky++ {
			for kx := 0; kx < g.Size; kx++ {
				row := col[((c*g.Size+ky)*g.Size+kx)*ncol:]
				for oy := 0; oy < g.OutH; oy++ {
					y := oy*g.Stride - g.Pad + ky
					out := row[oy*g.OutW : (oy+1)*g.OutW]
					if y < 0 || y >= g.H {
						for i := range out {
							out[i] = 0
						}
						continue
					}
					for ox := range out {
						x := ox*g.Stride - g.Pad + kx
						if x < 0 || x >= g.W {
							out[ox] = 0
						} else {
							out[ox] = plane[y*g.W+x]
						}
					}
				}
			}
		}
	}
}

// Col2Im is the adjoint of Im2Col: it sums each column entry back into the image position it
// was taken from. dst is cleared first.
func (g ConvGeom) Col2Im(col, dst []float32) {
	for i := range dst[:g.C*g.H*g.W] {
		dst[i] = 0
	}
	ncol := g.ColCols()
	for c := 0; c < g.C; c++ {
		plane := dst[c*g.H*g.W : (c+1)*g.H*g.W]
		for ky := 0; ky < g.Size; ky++ {
			for kx := 0; kx < g.Size; kx++ {
				row := col[((c*g.Size+ky)*g.Size+kx)*ncol:]
				for oy := 0; oy < g.OutH; oy++ {
					y := oy*g.Stride - g.Pad + ky
					if y < 0 || y >= g.H {
						continue
					}
					for ox := 0; ox < g.OutW; ox++ {
						x := ox*g.Stride - g.Pad + kx
						if x >= 0 && x < g.W {
							plane[y*g.W+x] += row[oy*g.OutW+ox]
						}
					}
				}
			}
		}
	}
}

// PoolGeom holds the geometry of a 2d max pooling operation on a single image.
type PoolGeom struct {
	C, H, W      int
	Size, Stride int
	OutH, OutW   int
}

// NewPoolGeom validates the parameters and calculates the output size.
func NewPoolGeom(c, h, w, size, stride int) (PoolGeom, error) {
	g := PoolGeom{C: c, H: h, W: w, Size: size, Stride: stride}
	if size < 1 || stride < 1 {
		return g, fmt.Errorf("invalid pool params: size=%d stride=%d", size, stride)
	}
	if h < size || w < size {
		return g, fmt.Errorf("pool size %d too large for %dx%d input", size, h, w)
	}
	g.OutH = PoolOutSize(h, size, stride)
	g.OutW = PoolOutSize(w, size, stride)
	return g, nil
}

// MaxPool sets dst to the maximum over each window of src and records the index within src of
// the selected element so that the gradient can be routed back.
func (g PoolGeom) MaxPool(src, dst []float32, index []int32) {
	for c := 0; c < g.C; c++ {
		base := c * g.H * g.W
		for oy := 0; oy < g.OutH; oy++ {
			for ox := 0; ox < g.OutW; ox++ {
				best := -1
				var max float32
				for ky := 0; ky < g.Size; ky++ {
					y := oy*g.Stride + ky
					for kx := 0; kx < g.Size; kx++ {
						pos := base + y*g.W + ox*g.Stride + kx
						if best < 0 || src[pos] > max {
							best, max = pos, src[pos]
						}
					}
				}
				out := (c*g.OutH+oy)*g.OutW + ox
				dst[out] = max
				index[out] = int32(best)
			}
		}
	}
}

// MaxPoolD routes grad back to the position of each maximum. dsrc is cleared first.
func (g PoolGeom) MaxPoolD(grad []float32, index []int32, dsrc []float32) {
	for i := range dsrc[:g.C*g.H*g.W] {
		dsrc[i] = 0
	}
	for i, ix := range index[:g.C*g.OutH*g.OutW] {
		dsrc[ix] += grad[i]
	}
}
