package nnet

import (
	"math"

	"github.com/JuanCldCmt/ML-mini-project/num"
	"github.com/pkg/errors"
)

// Optimizer updates the network parameters from their gradients.
type Optimizer interface {
	Step(params []Param, learningRate float64)
}

// NewOptimizer returns the optimizer selected in the config.
func NewOptimizer(c Config) (Optimizer, error) {
	switch c.Optimizer {
	case "adam":
		return NewAdam(c.Beta1, c.Beta2, c.Epsilon), nil
	case "sgd":
		return SGD{}, nil
	default:
		return nil, errors.Errorf("invalid optimizer %q", c.Optimizer)
	}
}

// SGD is plain gradient descent: w <- w - eta*dw
type SGD struct{}

func (SGD) Step(params []Param, learningRate float64) {
	for _, p := range params {
		num.Axpy(float32(-learningRate), p.Grad, p.W)
	}
}

// Adam optimizer with bias corrected first and second moment estimates.
type Adam struct {
	Beta1, Beta2, Epsilon float64
	steps                 int
	m1, m2                [][]float32
}

func NewAdam(beta1, beta2, epsilon float64) *Adam {
	return &Adam{Beta1: beta1, Beta2: beta2, Epsilon: epsilon}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.steps }

func (a *Adam) Step(params []Param, learningRate float64) {
	if a.m1 == nil {
		a.m1 = make([][]float32, len(params))
		a.m2 = make([][]float32, len(params))
		for i, p := range params {
			a.m1[i] = make([]float32, p.W.Size())
			a.m2[i] = make([]float32, p.W.Size())
		}
	}
	a.steps++
	c1 := 1 - math.Pow(a.Beta1, float64(a.steps))
	c2 := 1 - math.Pow(a.Beta2, float64(a.steps))
	b1, b2 := float32(a.Beta1), float32(a.Beta2)
	for i, p := range params {
		m1, m2 := a.m1[i], a.m2[i]
		for j, g := range p.Grad.Data {
			m1[j] = m1[j]*b1 + g*(1-b1)
			m2[j] = m2[j]*b2 + g*g*(1-b2)
			mhat := float64(m1[j]) / c1
			vhat := float64(m2[j]) / c2
			p.W.Data[j] -= float32(learningRate * mhat / (math.Sqrt(vhat) + a.Epsilon))
		}
	}
}
