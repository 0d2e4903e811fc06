package num

import (
	"fmt"
	"strings"
)

// Parameters for array printing
var (
	PrintThreshold = 12
	PrintEdgeitems = 4
)

// Array is a general n dimensional float32 tensor similar to a numpy ndarray.
// Data is stored in row major order, so for a batch of images the dims are
// [batch, channels, height, width] and each sample is a contiguous block.
type Array struct {
	dims []int
	Data []float32
}

// NewArray allocates a new zeroed array with the given shape.
func NewArray(dims ...int) *Array {
	d := append([]int{}, dims...)
	return &Array{dims: d, Data: make([]float32, Prod(d))}
}

// NewArrayLike allocates a new zeroed array with the same shape as a.
func NewArrayLike(a *Array) *Array {
	return NewArray(a.dims...)
}

// FromSlice wraps an existing slice, which must have Prod(dims) elements.
func FromSlice(data []float32, dims ...int) *Array {
	if len(data) != Prod(dims) {
		panic(fmt.Sprintf("FromSlice: have %d elements for shape %v", len(data), dims))
	}
	return &Array{dims: append([]int{}, dims...), Data: data}
}

// Dims returns the shape of the array.
func (a *Array) Dims() []int { return a.dims }

// Size is total number of elements.
func (a *Array) Size() int { return len(a.Data) }

// Rows is the size of the first dimension, which is the batch size for layer inputs and outputs.
func (a *Array) Rows() int {
	if len(a.dims) == 0 {
		return 1
	}
	return a.dims[0]
}

// Row returns a view on the data for one entry along the first dimension.
func (a *Array) Row(i int) []float32 {
	stride := Prod(a.dims[1:])
	return a.Data[i*stride : (i+1)*stride]
}

// Reshape returns a new array with a view on the same data but with a different shape.
// One dimension may be given as -1 in which case it is calculated from the others.
func (a *Array) Reshape(dims ...int) *Array {
	d := append([]int{}, dims...)
	n := len(a.Data)
	for i := range d {
		if d[i] == -1 {
			other := 1
			for j, dim := range d {
				if i != j {
					if dim == -1 {
						panic("Reshape: can only have single -1 value")
					}
					other *= dim
				}
			}
			d[i] = n / other
		}
	}
	if Prod(d) != n {
		panic(fmt.Sprintf("Reshape: cannot reshape %v to %v", a.dims, dims))
	}
	return &Array{dims: d, Data: a.Data}
}

// Clone returns a deep copy of the array.
func (a *Array) Clone() *Array {
	return &Array{dims: append([]int{}, a.dims...), Data: append([]float32{}, a.Data...)}
}

// Formatted output
func (a *Array) String() string {
	return format(a.dims, a.Data, "")
}

func format(dims []int, data []float32, indent string) string {
	switch len(dims) {
	case 0:
		return formatValue(data[0])
	case 1:
		s := make([]string, 0, dims[0])
		for i := 0; i < dims[0]; i++ {
			if dims[0] > PrintThreshold+1 && i == PrintEdgeitems {
				s = append(s, "    ... ")
				i = dims[0] - PrintEdgeitems - 1
				continue
			}
			s = append(s, formatValue(data[i]))
		}
		return "[" + strings.Join(s, "") + "]"
	default:
		stride := Prod(dims[1:])
		s := make([]string, 0, dims[0])
		for i := 0; i < dims[0]; i++ {
			if dims[0] > PrintThreshold+1 && i == PrintEdgeitems {
				s = append(s, indent+" ...")
				i = dims[0] - PrintEdgeitems - 1
				continue
			}
			s = append(s, indent+" "+format(dims[1:], data[i*stride:(i+1)*stride], indent+" "))
		}
		return "[\n" + strings.Join(s, "\n") + "\n" + indent + "]"
	}
}

func formatValue(val float32) string {
	if abs(val) < 1 {
		val = float32(int(10000*val+0.5)) / 10000
	}
	return fmt.Sprintf("%7.5g ", val)
}

func abs(x float32) float32 {
	if x >= 0 {
		return x
	}
	return -x
}

// Product of elements of an integer array. Zero dimension array (scalar) has size 1.
func Prod(arr []int) int {
	prod := 1
	for _, v := range arr {
		prod *= v
	}
	return prod
}

// Check if two arrays are the same shape
func SameShape(xd, yd []int) bool {
	if len(xd) != len(yd) {
		return false
	}
	for i := range xd {
		if xd[i] != yd[i] {
			return false
		}
	}
	return true
}

// Total size of one of more arrays in bytes
func Bytes(arr ...*Array) (bytes int) {
	for _, a := range arr {
		if a != nil {
			bytes += 4 * a.Size()
		}
	}
	return bytes
}
