package nnet

import (
	"image"

	"k8s.io/klog/v2"
)

// Sink receives named scalar values and figures as training progresses. step is the epoch number.
type Sink interface {
	AddScalar(tag string, value float64, step int)
	AddImage(tag string, img image.Image, step int)
}

// LogSink writes events to the log at verbosity level 1.
type LogSink struct{}

func (LogSink) AddScalar(tag string, value float64, step int) {
	klog.V(1).Infof("step %d: %s = %.6g", step, tag, value)
}

func (LogSink) AddImage(tag string, img image.Image, step int) {
	klog.V(1).Infof("step %d: %s image %v", step, tag, img.Bounds().Size())
}

// MultiSink forwards each event to all of its members.
type MultiSink []Sink

func (m MultiSink) AddScalar(tag string, value float64, step int) {
	for _, s := range m {
		s.AddScalar(tag, value, step)
	}
}

func (m MultiSink) AddImage(tag string, img image.Image, step int) {
	for _, s := range m {
		s.AddImage(tag, img, step)
	}
}
