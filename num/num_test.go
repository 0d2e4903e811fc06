package num

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

const eps = 1e-5

func randArray(rng *rand.Rand, size int, min, max float32) []float32 {
	v := make([]float32, size)
	for i := range v {
		v[i] = min + rng.Float32()*(max-min)
	}
	return v
}

func compare(t *testing.T, title string, got, expect []float32) {
	t.Helper()
	if len(got) != len(expect) {
		t.Fatalf("%s: length mismatch got %d expect %d", title, len(got), len(expect))
	}
	for i := range got {
		if math.Abs(float64(got[i]-expect[i])) > eps {
			t.Fatalf("%s: mismatch at %d: got %v expect %v", title, i, got, expect)
		}
	}
}

func TestArray(t *testing.T) {
	x := NewArray(6)
	copy(x.Data, []float32{1, 1, 2, 2, 3, 3})
	x = x.Reshape(2, -1)
	if dim := x.Dims(); !reflect.DeepEqual(dim, []int{2, 3}) {
		t.Error("dims invalid: got", dim)
	}
	if row := x.Row(1); !reflect.DeepEqual(row, []float32{2, 3, 3}) {
		t.Error("row invalid: got", row)
	}
	y := x.Clone()
	Fill(x, 0)
	if y.Data[0] != 1 || x.Data[0] != 0 {
		t.Error("clone shares data with source")
	}
	t.Logf("\n%s", y)
}

func TestReshapePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on invalid reshape")
		}
	}()
	NewArray(2, 3).Reshape(4, 2)
}

func TestCopy(t *testing.T) {
	x := NewArray(2, 3)
	Copy(x, FromSlice([]float32{1, 2, 3}, 3))
	compare(t, "tile", x.Data, []float32{1, 2, 3, 1, 2, 3})
	y := NewArray(6)
	Copy(y, x)
	compare(t, "copy", y.Data, x.Data)
}

func TestAxpyScale(t *testing.T) {
	x := FromSlice([]float32{1, 2, 3}, 3)
	y := FromSlice([]float32{1, 1, 1}, 3)
	Axpy(2, x, y)
	compare(t, "axpy", y.Data, []float32{3, 5, 7})
	Scale(0.5, y)
	compare(t, "scale", y.Data, []float32{1.5, 2.5, 3.5})
	if s := Sum(y); math.Abs(s-7.5) > eps {
		t.Errorf("sum: got %g", s)
	}
}

func TestGemm(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := FromSlice([]float32{7, 8, 9, 10, 11, 12}, 3, 2)
	c := NewArray(2, 2)
	Gemm(1, 0, a, b, c, NoTrans, NoTrans)
	compare(t, "gemm", c.Data, []float32{58, 64, 139, 154})

	// aT is a transposed copy of a
	aT := FromSlice([]float32{1, 4, 2, 5, 3, 6}, 3, 2)
	Fill(c, 1)
	Gemm(1, 1, aT, b, c, Trans, NoTrans)
	compare(t, "gemm trans", c.Data, []float32{59, 65, 140, 155})
}

func TestGemv(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	ones := FromSlice([]float32{1, 1}, 2)
	res := NewArray(3)
	Gemv(1, 0, a, ones, res, Trans)
	compare(t, "column sums", res.Data, []float32{5, 7, 9})
}

func TestActivations(t *testing.T) {
	x := FromSlice([]float32{-1, 0, 2}, 3)
	y := NewArrayLike(x)
	Relu(x, y)
	compare(t, "relu", y.Data, []float32{0, 0, 2})
	grad := FromSlice([]float32{5, 5, 5}, 3)
	ReluD(x, grad, y)
	compare(t, "relu deriv", y.Data, []float32{0, 0, 5})

	Sigmoid(x, y)
	compare(t, "sigmoid", y.Data, []float32{0.26894142, 0.5, 0.880797})
	res := NewArrayLike(x)
	SigmoidD(y, grad, res)
	compare(t, "sigmoid deriv", res.Data, []float32{5 * 0.26894142 * 0.73105858, 1.25, 5 * 0.880797 * 0.119203})
}

func TestBCELoss(t *testing.T) {
	p := FromSlice([]float32{0.9, 0.2, 0, 1}, 4, 1)
	y := FromSlice([]float32{1, 0, 1, 1}, 4, 1)
	res := NewArrayLike(p)
	BCELoss(p, y, res)
	expect := []float32{float32(-math.Log(0.9)), float32(-math.Log(0.8)), 100, 0}
	compare(t, "bce", res.Data, expect)
	if n := Correct(p, y, 0.5); n != 3 {
		t.Errorf("correct: got %d expect 3", n)
	}
}

func TestIm2ColAdjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	g, err := NewConvGeom(2, 5, 6, 3, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if g.OutH != 5 || g.OutW != 6 {
		t.Fatalf("output size: got %dx%d", g.OutH, g.OutW)
	}
	x := randArray(rng, g.C*g.H*g.W, -1, 1)
	c := randArray(rng, g.ColRows()*g.ColCols(), -1, 1)
	col := make([]float32, len(c))
	g.Im2Col(x, col)
	img := make([]float32, len(x))
	g.Col2Im(c, img)
	var lhs, rhs float64
	for i := range c {
		lhs += float64(col[i] * c[i])
	}
	for i := range x {
		rhs += float64(x[i] * img[i])
	}
	if math.Abs(lhs-rhs) > 1e-3 {
		t.Errorf("im2col is not adjoint of col2im: %g != %g", lhs, rhs)
	}
}

func TestIm2ColCentre(t *testing.T) {
	g, err := NewConvGeom(1, 3, 3, 3, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	src := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	col := make([]float32, g.ColRows()*g.ColCols())
	g.Im2Col(src, col)
	// column for the centre output position sees the whole image
	centre := make([]float32, 9)
	for i := range centre {
		centre[i] = col[i*g.ColCols()+4]
	}
	compare(t, "centre", centre, src)
	// top left output position has padding in the first row and column
	corner := make([]float32, 9)
	for i := range corner {
		corner[i] = col[i*g.ColCols()]
	}
	compare(t, "corner", corner, []float32{0, 0, 0, 0, 1, 2, 0, 4, 5})
}

func TestConvGeomErrors(t *testing.T) {
	if _, err := NewConvGeom(1, 3, 3, 7, 1, 0); err == nil {
		t.Error("expected error for kernel larger than input")
	}
	if _, err := NewPoolGeom(1, 1, 1, 2, 2); err == nil {
		t.Error("expected error for pool larger than input")
	}
	if _, err := NewPoolGeom(3, 2, 1, 2, 2); err == nil {
		t.Error("expected error for pool wider than input")
	}
	if _, err := NewConvGeom(1, 2, 2, 5, 1, 1); err == nil {
		t.Error("expected error for kernel larger than padded input")
	}
	if _, err := NewConvGeom(1, 1, 1, 3, 1, 1); err != nil {
		t.Errorf("kernel fits padded input: %v", err)
	}
}

func TestMaxPool(t *testing.T) {
	g, err := NewPoolGeom(1, 4, 5, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if g.OutH != 2 || g.OutW != 2 {
		t.Fatalf("output size: got %dx%d", g.OutH, g.OutW)
	}
	src := []float32{
		1, 2, 0, 1, 9,
		3, 4, 5, 0, 9,
		0, 0, 1, 1, 9,
		7, 0, 1, 2, 9,
	}
	dst := make([]float32, 4)
	index := make([]int32, 4)
	g.MaxPool(src, dst, index)
	compare(t, "maxpool", dst, []float32{4, 5, 7, 2})
	dsrc := make([]float32, len(src))
	g.MaxPoolD([]float32{1, 2, 3, 4}, index, dsrc)
	expect := make([]float32, len(src))
	expect[6], expect[7], expect[15], expect[18] = 1, 2, 3, 4
	compare(t, "maxpool deriv", dsrc, expect)
}
