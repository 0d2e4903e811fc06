package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/JuanCldCmt/ML-mini-project/num"
	"github.com/pkg/errors"
)

// Layer interface type represents one layer of the neural net. Shapes passed to Init and OutShape
// exclude the batch dimension, the arrays passed to Fprop and Bprop have the batch size as the
// first dimension. Internal buffers are reallocated if the batch size changes.
type Layer interface {
	Init(inShape []int, threads int) error
	OutShape(inShape []int) []int
	Fprop(in *num.Array) *num.Array
	Bprop(grad *num.Array) *num.Array
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters
type ParamLayer interface {
	Layer
	InitParams(rng *rand.Rand)
	Params() (W, B *num.Array)
	ParamGrads() (dW, dB *num.Array)
}

// OutputLayer is the final layer in the stack
type OutputLayer interface {
	Layer
	Loss(y, yPred *num.Array) *num.Array
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() (Layer, error) {
	var err error
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		if err = unmarshal(l.Data, cfg); err == nil {
			return &conv{Conv: *cfg}, nil
		}
	case "maxPool":
		cfg := new(MaxPool)
		if err = unmarshal(l.Data, cfg); err == nil {
			return &maxPool{MaxPool: *cfg}, nil
		}
	case "linear":
		cfg := new(Linear)
		if err = unmarshal(l.Data, cfg); err == nil {
			return &linear{Linear: *cfg}, nil
		}
	case "activation":
		cfg := new(Activation)
		if err = unmarshal(l.Data, cfg); err == nil {
			if cfg.Atype != "relu" && cfg.Atype != "sigmoid" {
				return nil, errors.Errorf("activation type %s invalid", cfg.Atype)
			}
			return &activation{Activation: *cfg}, nil
		}
	case "logistic":
		return &logistic{}, nil
	case "flatten":
		return &flatten{}, nil
	default:
		return nil, errors.Errorf("invalid layer type: %s", l.Type)
	}
	return nil, errors.Wrapf(err, "layer %s", l.Type)
}

func (l LayerConfig) String() string {
	layer, err := l.Unmarshal()
	if err != nil {
		return err.Error()
	}
	return layer.ToString()
}

// Convolutional layer, implements ParamLayer interface.
type Conv struct {
	Nfeats, Size, Stride, Pad int
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

func (c Conv) ToString() string {
	return fmt.Sprintf("conv %+v", c)
}

// Max pooling layer, should follow conv layer.
type MaxPool struct {
	Size, Stride int
}

func (c MaxPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "maxPool", Data: marshal(c)}
}

func (c MaxPool) ToString() string {
	return fmt.Sprintf("maxPool %+v", c)
}

// Linear fully connected layer, implements ParamLayer interface.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

func (c Linear) ToString() string {
	return fmt.Sprintf("linear %+v", c)
}

// Sigmoid or relu activation layer.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) ToString() string {
	return fmt.Sprintf("activation %+v", c)
}

// Logistic output layer with sigmoid activation and binary cross entropy loss.
type Logistic struct{}

func (c Logistic) Marshal() LayerConfig {
	return LayerConfig{Type: "logistic"}
}

// Flatten layer reshapes from 4 to 2 dimensions.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// base layer type
type layerBase struct {
	inShape  []int
	outShape []int
	src      *num.Array
	dst      *num.Array
	dsrc     *num.Array
}

func newLayerBase(inShape, outShape []int) layerBase {
	return layerBase{inShape: append([]int{}, inShape...), outShape: append([]int{}, outShape...)}
}

func (l layerBase) OutShape(inShape []int) []int { return inShape }

// allocate output and gradient buffers for the given batch size
func (l *layerBase) alloc(batch int) bool {
	if l.dst != nil && l.dst.Rows() == batch {
		return false
	}
	l.dst = num.NewArray(append([]int{batch}, l.outShape...)...)
	l.dsrc = num.NewArray(append([]int{batch}, l.inShape...)...)
	return true
}

// linear layer implementation
type linear struct {
	Linear
	layerBase
	paramBase
	ones *num.Array
}

func (l *linear) OutShape(inShape []int) []int {
	return []int{l.Nout}
}

func (l *linear) Init(inShape []int, threads int) error {
	if l.Nout < 1 {
		return errors.Errorf("linear: invalid output size %d", l.Nout)
	}
	nIn := num.Prod(inShape)
	l.layerBase = newLayerBase(inShape, l.OutShape(inShape))
	l.paramBase = newParams([]int{l.Nout, nIn}, []int{l.Nout}, nIn)
	return nil
}

func (l *linear) Fprop(in *num.Array) *num.Array {
	if l.alloc(in.Rows()) {
		l.ones = num.NewArray(in.Rows())
		num.Fill(l.ones, 1)
	}
	l.src = in
	num.Copy(l.dst, l.b)
	num.Gemm(1, 1, l.src, l.w, l.dst, num.NoTrans, num.Trans)
	return l.dst
}

func (l *linear) Bprop(grad *num.Array) *num.Array {
	num.Gemv(1, 0, grad, l.ones, l.db, num.Trans)
	num.Gemm(1, 0, grad, l.src, l.dw, num.Trans, num.NoTrans)
	num.Gemm(1, 0, grad, l.w, l.dsrc, num.NoTrans, num.NoTrans)
	return l.dsrc
}

// convolutional layer implementation, the batch is split between worker goroutines each of
// which accumulates its own weight gradients.
type conv struct {
	Conv
	layerBase
	paramBase
	geom    num.ConvGeom
	threads int
	wmat    *num.Array
	work    []convWork
}

type convWork struct {
	col, dcol *num.Array
	dw, db    *num.Array
}

func (l *conv) OutShape(inShape []int) []int {
	return []int{l.Nfeats, num.ConvOutSize(inShape[1], l.Size, l.Stride, l.Pad), num.ConvOutSize(inShape[2], l.Size, l.Stride, l.Pad)}
}

func (l *conv) Init(inShape []int, threads int) error {
	if len(inShape) != 3 {
		return errors.Wrapf(ErrShape, "conv: expect 3 dimensional input, got %v", inShape)
	}
	if l.Nfeats < 1 {
		return errors.Errorf("conv: invalid feature count %d", l.Nfeats)
	}
	var err error
	l.geom, err = num.NewConvGeom(inShape[0], inShape[1], inShape[2], l.Size, l.Stride, l.Pad)
	if err != nil {
		return errors.Wrap(ErrShape, err.Error())
	}
	l.threads = max(threads, 1)
	l.layerBase = newLayerBase(inShape, l.OutShape(inShape))
	l.paramBase = newParams([]int{l.Nfeats, inShape[0], l.Size, l.Size}, []int{l.Nfeats}, l.geom.ColRows())
	l.wmat = l.w.Reshape(l.Nfeats, -1)
	l.work = make([]convWork, l.threads)
	for i := range l.work {
		l.work[i] = convWork{
			col:  num.NewArray(l.geom.ColRows(), l.geom.ColCols()),
			dcol: num.NewArray(l.geom.ColRows(), l.geom.ColCols()),
			dw:   num.NewArray(l.Nfeats, l.geom.ColRows()),
			db:   num.NewArray(l.Nfeats),
		}
	}
	return nil
}

func (l *conv) Fprop(in *num.Array) *num.Array {
	l.alloc(in.Rows())
	l.src = in
	npix := l.geom.ColCols()
	parallel(l.threads, in.Rows(), func(worker, start, end int) {
		w := l.work[worker]
		for i := start; i < end; i++ {
			l.geom.Im2Col(in.Row(i), w.col.Data)
			out := num.FromSlice(l.dst.Row(i), l.Nfeats, npix)
			for f, bias := range l.b.Data {
				num.Fill(num.FromSlice(out.Row(f), npix), bias)
			}
			num.Gemm(1, 1, l.wmat, w.col, out, num.NoTrans, num.NoTrans)
		}
	})
	return l.dst
}

func (l *conv) Bprop(grad *num.Array) *num.Array {
	npix := l.geom.ColCols()
	for _, w := range l.work {
		num.Fill(w.dw, 0)
		num.Fill(w.db, 0)
	}
	parallel(l.threads, grad.Rows(), func(worker, start, end int) {
		w := l.work[worker]
		for i := start; i < end; i++ {
			g := num.FromSlice(grad.Row(i), l.Nfeats, npix)
			l.geom.Im2Col(l.src.Row(i), w.col.Data)
			num.Gemm(1, 1, g, w.col, w.dw, num.NoTrans, num.Trans)
			for f := range w.db.Data {
				var sum float32
				for _, v := range g.Row(f) {
					sum += v
				}
				w.db.Data[f] += sum
			}
			num.Gemm(1, 0, l.wmat, g, w.dcol, num.Trans, num.NoTrans)
			l.geom.Col2Im(w.dcol.Data, l.dsrc.Row(i))
		}
	})
	num.Fill(l.dw, 0)
	num.Fill(l.db, 0)
	for _, w := range l.work {
		num.Axpy(1, w.dw, l.dw)
		num.Axpy(1, w.db, l.db)
	}
	return l.dsrc
}

// max pooling layer implementation
type maxPool struct {
	MaxPool
	layerBase
	geom    num.PoolGeom
	threads int
	index   []int32
}

func (l *maxPool) OutShape(inShape []int) []int {
	stride := l.stride()
	return []int{inShape[0], num.PoolOutSize(inShape[1], l.Size, stride), num.PoolOutSize(inShape[2], l.Size, stride)}
}

func (l *maxPool) stride() int {
	if l.Stride == 0 {
		return l.Size
	}
	return l.Stride
}

func (l *maxPool) Init(inShape []int, threads int) error {
	if len(inShape) != 3 {
		return errors.Wrapf(ErrShape, "maxPool: expect 3 dimensional input, got %v", inShape)
	}
	var err error
	l.geom, err = num.NewPoolGeom(inShape[0], inShape[1], inShape[2], l.Size, l.stride())
	if err != nil {
		return errors.Wrap(ErrShape, err.Error())
	}
	l.threads = max(threads, 1)
	l.layerBase = newLayerBase(inShape, l.OutShape(inShape))
	return nil
}

func (l *maxPool) Fprop(in *num.Array) *num.Array {
	if l.alloc(in.Rows()) {
		l.index = make([]int32, l.dst.Size())
	}
	l.src = in
	nout := num.Prod(l.outShape)
	parallel(l.threads, in.Rows(), func(worker, start, end int) {
		for i := start; i < end; i++ {
			l.geom.MaxPool(in.Row(i), l.dst.Row(i), l.index[i*nout:(i+1)*nout])
		}
	})
	return l.dst
}

func (l *maxPool) Bprop(grad *num.Array) *num.Array {
	nout := num.Prod(l.outShape)
	parallel(l.threads, grad.Rows(), func(worker, start, end int) {
		for i := start; i < end; i++ {
			l.geom.MaxPoolD(grad.Row(i), l.index[i*nout:(i+1)*nout], l.dsrc.Row(i))
		}
	})
	return l.dsrc
}

// activation layers
type activation struct {
	Activation
	layerBase
}

func (l *activation) Init(inShape []int, threads int) error {
	l.layerBase = newLayerBase(inShape, inShape)
	return nil
}

func (l *activation) Fprop(in *num.Array) *num.Array {
	l.alloc(in.Rows())
	l.src = in
	if l.Atype == "sigmoid" {
		num.Sigmoid(l.src, l.dst)
	} else {
		num.Relu(l.src, l.dst)
	}
	return l.dst
}

func (l *activation) Bprop(grad *num.Array) *num.Array {
	if l.Atype == "sigmoid" {
		num.SigmoidD(l.dst, grad, l.dsrc)
	} else {
		num.ReluD(l.src, grad, l.dsrc)
	}
	return l.dsrc
}

// logistic output layer: the gradient passed to Bprop is taken to be with respect to the
// input logit, which for binary cross entropy is (yPred - y) / batchSize.
type logistic struct {
	layerBase
	loss *num.Array
}

func (l *logistic) ToString() string { return "logistic" }

func (l *logistic) Init(inShape []int, threads int) error {
	if num.Prod(inShape) != 1 {
		return errors.Wrapf(ErrShape, "logistic: expect single input, got %v", inShape)
	}
	l.layerBase = newLayerBase(inShape, inShape)
	return nil
}

func (l *logistic) Fprop(in *num.Array) *num.Array {
	if l.alloc(in.Rows()) {
		l.loss = num.NewArrayLike(l.dst)
	}
	l.src = in
	num.Sigmoid(l.src, l.dst)
	return l.dst
}

func (l *logistic) Bprop(grad *num.Array) *num.Array {
	num.Copy(l.dsrc, grad)
	return l.dsrc
}

func (l *logistic) Loss(y, yPred *num.Array) *num.Array {
	num.BCELoss(yPred, y, l.loss)
	return l.loss
}

type flatten struct {
	layerBase
}

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) OutShape(inShape []int) []int {
	return []int{num.Prod(inShape)}
}

func (l *flatten) Init(inShape []int, threads int) error {
	l.layerBase = newLayerBase(inShape, l.OutShape(inShape))
	return nil
}

func (l *flatten) Fprop(in *num.Array) *num.Array {
	l.src = in
	l.dst = in.Reshape(in.Rows(), -1)
	return l.dst
}

func (l *flatten) Bprop(grad *num.Array) *num.Array {
	l.dsrc = grad.Reshape(l.src.Dims()...)
	return l.dsrc
}

// weight and bias parameters
type paramBase struct {
	w, b   *num.Array
	dw, db *num.Array
	fanIn  int
}

func newParams(wShape, bShape []int, fanIn int) paramBase {
	return paramBase{
		w:     num.NewArray(wShape...),
		b:     num.NewArray(bShape...),
		dw:    num.NewArray(wShape...),
		db:    num.NewArray(bShape...),
		fanIn: fanIn,
	}
}

func (p paramBase) Params() (W, B *num.Array) {
	return p.w, p.b
}

func (p paramBase) ParamGrads() (dW, dB *num.Array) {
	return p.dw, p.db
}

// InitParams sets weights and bias from a uniform distribution in the range +-1/sqrt(fanIn).
func (p paramBase) InitParams(rng *rand.Rand) {
	scale := float32(1 / math.Sqrt(float64(p.fanIn)))
	for _, arr := range []*num.Array{p.w, p.b} {
		for i := range arr.Data {
			arr.Data[i] = (2*rng.Float32() - 1) * scale
		}
	}
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
