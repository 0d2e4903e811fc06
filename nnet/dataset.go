package nnet

import (
	"math"
	"math/rand"
	"strconv"

	"github.com/JuanCldCmt/ML-mini-project/num"
	"github.com/pkg/errors"
)

// Data interface type represents the raw data for a training or test set. Labels are 0 or 1.
type Data interface {
	Len() int
	Classes() []string
	Shape() []int
	Label(index []int, label []float32)
	Input(index []int, buf []float32)
}

// Transformer applies random distortions in place to a batch of n inputs.
type Transformer interface {
	TransformBatch(buf []float32, n int)
}

// Dataset type encapsulates a set of training or test data split into batches.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	Transform Transformer
	x, y      *num.Array
	indexes   []int
	rng       *rand.Rand
}

// Create a new Dataset struct and set the batch size. The final batch is short if the number
// of samples is not a multiple of the batch size.
func NewDataset(data Data, batchSize int, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), rng: rng}
	if batchSize <= 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	if d.BatchSize > 0 {
		d.Batches = (d.Samples + d.BatchSize - 1) / d.BatchSize
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	return d
}

// Shuffle the data set
func (d *Dataset) Shuffle() {
	d.indexes = d.rng.Perm(d.Samples)
}

// GetBatch returns the input with shape [batch, channels, height, width] and labels with shape
// [batch, 1] for the given batch number. The returned arrays are overwritten by the next call.
func (d *Dataset) GetBatch(batch int) (x, y *num.Array) {
	start := batch * d.BatchSize
	end := min(start+d.BatchSize, d.Samples)
	n := end - start
	if d.x == nil || d.x.Rows() != n {
		d.x = num.NewArray(append([]int{n}, d.Shape()...)...)
		d.y = num.NewArray(n, 1)
	}
	index := d.indexes[start:end]
	d.Input(index, d.x.Data)
	d.Label(index, d.y.Data)
	if d.Transform != nil {
		d.Transform.TransformBatch(d.x.Data, n)
	}
	return d.x, d.y
}

// Split the data at random into disjoint training and test subsets. The test set has
// ceil(testSize * samples) entries, and both subsets must be non-empty.
func Split(data Data, testSize float64, rng *rand.Rand) (train, test Data, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.Errorf("test size %g must be between 0 and 1", testSize)
	}
	n := data.Len()
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < 1 || nTest >= n {
		return nil, nil, errors.Errorf("cannot split %d samples with test size %g", n, testSize)
	}
	perm := rng.Perm(n)
	return Subset(data, perm[nTest:]), Subset(data, perm[:nTest]), nil
}

// Subset returns a view on the entries of data selected by index.
func Subset(data Data, index []int) Data {
	return subset{Data: data, index: append([]int{}, index...)}
}

type subset struct {
	Data
	index []int
}

func (s subset) Len() int { return len(s.index) }

func (s subset) Label(index []int, label []float32) {
	s.Data.Label(s.mapIndex(index), label)
}

func (s subset) Input(index []int, buf []float32) {
	s.Data.Input(s.mapIndex(index), buf)
}

// Indexes returns the positions of the subset entries in the parent data.
func (s subset) Indexes() []int { return s.index }

func (s subset) mapIndex(index []int) []int {
	ix := make([]int, len(index))
	for i, j := range index {
		ix[i] = s.index[j]
	}
	return ix
}

type data struct {
	Class  []string
	Dims   []int
	Labels []float32
	Inputs []float32
}

// NewData function creates a new in memory data set which implements the Data interface
func NewData(nclasses int, shape []int, labels []float32, inputs []float32) Data {
	classes := make([]string, nclasses)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}
	return data{Class: classes, Dims: shape, Labels: labels, Inputs: inputs}
}

func (d data) Len() int { return len(d.Labels) }

func (d data) Classes() []string { return d.Class }

func (d data) Shape() []int { return d.Dims }

func (d data) Label(index []int, label []float32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

func (d data) Input(index []int, buf []float32) {
	nfeat := num.Prod(d.Dims)
	for i, ix := range index {
		copy(buf[i*nfeat:], d.Inputs[ix*nfeat:(ix+1)*nfeat])
	}
}
