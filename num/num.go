// Package num contains numeric Array processing routines such as optimised matrix multiplication,
// activation functions, convolution and pooling kernels.
package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// TransType flag indicates if matrix is transposed
type TransType = blas.Transpose

const (
	NoTrans TransType = blas.NoTrans
	Trans   TransType = blas.Trans
)

// Limit applied to log terms in the binary cross entropy loss so that a saturated
// prediction gives a large but finite loss.
const logClamp = -100

// Fill array with a scalar value
func Fill(a *Array, scalar float32) {
	for i := range a.Data {
		a.Data[i] = scalar
	}
}

// Copy from src to dst, broadcast vector to matrix if needed, vector is tiled row wise
func Copy(dst, src *Array) {
	ddim, sdim := dst.Dims(), src.Dims()
	switch {
	case src.Size() == dst.Size():
		copy(dst.Data, src.Data)
	case len(sdim) == 1 && len(ddim) == 2 && sdim[0] == ddim[1]:
		for row := 0; row < ddim[0]; row++ {
			copy(dst.Data[row*ddim[1]:], src.Data)
		}
	default:
		panic(fmt.Sprintf("Copy: cannot copy from %v to %v shape", sdim, ddim))
	}
}

// Scale array: x <- alpha*x
func Scale(alpha float32, x *Array) {
	blas32.Scal(alpha, vector(x))
}

// Array addition and scaling: y <- alpha*x + y
func Axpy(alpha float32, x, y *Array) {
	if x.Size() != y.Size() {
		panic(fmt.Sprintf("Axpy: arrays must be same size: %v %v", x.Dims(), y.Dims()))
	}
	blas32.Axpy(alpha, vector(x), vector(y))
}

// Calculate the scalar sum of the values in the array.
func Sum(a *Array) float64 {
	var sum float64
	for _, v := range a.Data {
		sum += float64(v)
	}
	return sum
}

// Matrix vector multiplication: y <- alpha*dot(mA,x) + beta*y
func Gemv(alpha, beta float32, mA, x, y *Array, aTrans TransType) {
	adim := mA.Dims()
	if len(adim) != 2 {
		panic("Gemv: must have matrix input")
	}
	m, n := adim[0], adim[1]
	if aTrans == Trans {
		m, n = n, m
	}
	if x.Size() != n || y.Size() != m {
		panic(fmt.Sprintf("Gemv: incorrect vector size %v x %v => %v", adim, x.Dims(), y.Dims()))
	}
	blas32.Gemv(aTrans, alpha, general(mA), vector(x), beta, vector(y))
}

// Matrix matrix multiplication: mC <- alpha*dot(mA, mB) + beta*mC
func Gemm(alpha, beta float32, mA, mB, mC *Array, aTrans, bTrans TransType) {
	a, b, c := general(mA), general(mB), general(mC)
	m, k := a.Rows, a.Cols
	k2, n := b.Rows, b.Cols
	if aTrans == Trans {
		m, k = k, m
	}
	if bTrans == Trans {
		k2, n = n, k2
	}
	if k2 != k {
		panic(fmt.Sprintf("Gemm: invalid input shape %v x %v", mA.Dims(), mB.Dims()))
	}
	if c.Rows != m || c.Cols != n {
		panic(fmt.Sprintf("Gemm: invalid output shape %v expecting [%d %d]", mC.Dims(), m, n))
	}
	blas32.Gemm(aTrans, bTrans, alpha, a, b, beta, c)
}

// Relu rectified linear activation function: y = max(x, 0)
func Relu(x, y *Array) {
	checkSize("Relu", x, y)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		} else {
			y.Data[i] = 0
		}
	}
}

// ReluD back propagates grad through the relu function given its input x.
func ReluD(x, grad, y *Array) {
	checkSize("ReluD", x, grad, y)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = grad.Data[i]
		} else {
			y.Data[i] = 0
		}
	}
}

// Sigmoid activation function: y = 1/(1+e**(-x))
func Sigmoid(x, y *Array) {
	checkSize("Sigmoid", x, y)
	for i, v := range x.Data {
		y.Data[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
}

// SigmoidD back propagates grad through the sigmoid function given its output y.
func SigmoidD(y, grad, res *Array) {
	checkSize("SigmoidD", y, grad, res)
	for i, v := range y.Data {
		res.Data[i] = grad.Data[i] * v * (1 - v)
	}
}

// BCELoss sets res to the element wise binary cross entropy between predicted probabilities
// and 0/1 targets: -(y*log(p) + (1-y)*log(1-p)).
func BCELoss(yPred, y, res *Array) {
	checkSize("BCELoss", yPred, y, res)
	for i, p := range yPred.Data {
		t := float64(y.Data[i])
		lp := math.Max(math.Log(float64(p)), logClamp)
		lq := math.Max(math.Log(1-float64(p)), logClamp)
		res.Data[i] = float32(-(t*lp + (1-t)*lq))
	}
}

// Correct returns number of predictions which match the 0/1 target after applying the threshold.
func Correct(yPred, y *Array, threshold float32) int {
	checkSize("Correct", yPred, y)
	n := 0
	for i, p := range yPred.Data {
		var class float32
		if p > threshold {
			class = 1
		}
		if class == y.Data[i] {
			n++
		}
	}
	return n
}

func checkSize(name string, arr ...*Array) {
	for _, a := range arr[1:] {
		if a.Size() != arr[0].Size() {
			panic(fmt.Sprintf("%s: arrays must be same size: %v %v", name, arr[0].Dims(), a.Dims()))
		}
	}
}

// treat array as a matrix with the first dim as rows and the remainder flattened into columns
func general(a *Array) blas32.General {
	rows := a.Rows()
	cols := 1
	if len(a.dims) > 1 {
		cols = Prod(a.dims[1:])
	}
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: a.Data}
}

func vector(a *Array) blas32.Vector {
	return blas32.Vector{N: len(a.Data), Inc: 1, Data: a.Data}
}
