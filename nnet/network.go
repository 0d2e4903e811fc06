// Package nnet contains routines for constructing, training and testing neural networks.
package nnet

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/JuanCldCmt/ML-mini-project/num"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrShape is returned when an input or layer shape is not compatible with the network.
var ErrShape = errors.New("shape mismatch")

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers  []Layer
	names   []string
	inShape []int
}

// Param is a named parameter array with its gradient.
type Param struct {
	Name string
	W    *num.Array
	Grad *num.Array
}

// New function creates a new network with the given layers. inShape is the [channels, height, width]
// shape of one input sample; the size of each layer, including the input to the first fully
// connected layer, is derived from it.
func New(conf Config, inShape []int) (*Network, error) {
	n := &Network{Config: conf, inShape: append([]int{}, inShape...)}
	shape := n.inShape
	var nconv, nlinear int
	for i, l := range conf.Layers {
		layer, err := l.Unmarshal()
		if err != nil {
			return nil, err
		}
		if err = layer.Init(shape, conf.Threads); err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		name := ""
		switch layer.(type) {
		case *conv:
			nconv++
			name = fmt.Sprintf("conv%d", nconv)
		case *linear:
			nlinear++
			name = fmt.Sprintf("fc%d", nlinear)
		}
		n.Layers = append(n.Layers, layer)
		n.names = append(n.names, name)
		shape = layer.OutShape(shape)
		klog.V(2).Infof("layer %d: %s => %v", i, layer.ToString(), shape)
	}
	if len(n.Layers) == 0 {
		return nil, errors.New("network has no layers")
	}
	if _, ok := n.Layers[len(n.Layers)-1].(OutputLayer); !ok {
		return nil, errors.New("last layer must be an output layer")
	}
	if num.Prod(shape) != 1 {
		return nil, errors.Wrapf(ErrShape, "network output shape %v: expecting single value", shape)
	}
	return n, nil
}

// Initialise network weights using a uniform distribution scaled by 1/sqrt(nin)
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			l.InitParams(rng)
		}
	}
	if klog.V(3).Enabled() {
		n.PrintWeights()
	}
}

// InShape returns the shape of one input sample.
func (n *Network) InShape() []int {
	return n.inShape
}

// Params returns the weight and bias arrays for each layer, named as conv1.weight, conv1.bias etc.
func (n *Network) Params() []Param {
	var p []Param
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			dW, dB := l.ParamGrads()
			p = append(p,
				Param{Name: n.names[i] + ".weight", W: W, Grad: dW},
				Param{Name: n.names[i] + ".bias", W: B, Grad: dB},
			)
		}
	}
	return p
}

// Accessor for output layer
func (n *Network) OutLayer() OutputLayer {
	return n.Layers[len(n.Layers)-1].(OutputLayer)
}

// Feed forward the input to get the predicted output probabilities with shape [batch, 1]
func (n *Network) Fprop(input *num.Array) (*num.Array, error) {
	dims := input.Dims()
	if len(dims) != len(n.inShape)+1 || !num.SameShape(dims[1:], n.inShape) {
		return nil, errors.Wrapf(ErrShape, "input %v: expecting [batch %v]", dims, n.inShape)
	}
	pred := input
	for i, layer := range n.Layers {
		pred = layer.Fprop(pred)
		if klog.V(4).Enabled() {
			klog.Infof("layer %d output\n%s", i, pred)
		}
	}
	return pred, nil
}

// Back propagate the gradient with respect to the output layer input through the network.
// Gradients for the parameters are left in each ParamLayer.
func (n *Network) Bprop(grad *num.Array) {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		grad = n.Layers[i].Bprop(grad)
	}
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-40s %v", i, layer.ToString(), shape)
		shape = layer.OutShape(shape)
	}
	return fmt.Sprintf("== Network ==\n%s", strings.Join(s, "\n"))
}

// Print network weights
func (n *Network) PrintWeights() {
	for _, p := range n.Params() {
		klog.Infof("== %s ==\n%s", p.Name, p.W)
	}
}
