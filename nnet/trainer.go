package nnet

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"time"

	"github.com/JuanCldCmt/ML-mini-project/num"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Threshold applied to the output probability to get the predicted class.
const Threshold = 0.5

// Event tags sent to the Sink
const (
	TagTrainLoss = "loss/Train"
	TagEvalLoss  = "loss/Eval"
	TagTrainAcc  = "accuracy/Train"
	TagEvalAcc   = "accuracy/Eval"
	TagRate      = "lr"
	TagSamples   = "predictions vs. actuals"
)

// Training statistics for one epoch. Accuracy values are percentages.
type Stats struct {
	Epoch        int
	LearningRate float64
	TrainLoss    float64
	TrainAcc     float64
	EvalLoss     float64
	EvalAcc      float64
	Elapsed      time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("epoch %3d:  train loss =%7.4f  eval loss =%7.4f  train acc =%6.2f%%  eval acc =%6.2f%%  lr =%.3g",
		s.Epoch, s.TrainLoss, s.EvalLoss, s.TrainAcc, s.EvalAcc, s.LearningRate)
}

// Renderer draws a figure of input images with their labels and predicted probabilities.
type Renderer func(x *num.Array, labels, pred []float32) image.Image

// Trainer runs the training loop: each epoch trains on the training set, evaluates the test
// set, reports the results and saves a checkpoint when due.
type Trainer struct {
	Net      *Network
	Train    *Dataset
	Test     *Dataset
	Sink     Sink
	Render   Renderer
	RunID    string
	Schedule Schedule
	Stats    []Stats
	opt      Optimizer
	grad     *num.Array
	saved    []string
}

// NewTrainer creates a trainer using the optimizer and learning rate schedule from the network config.
func NewTrainer(net *Network, train, test *Dataset, sink Sink) (*Trainer, error) {
	if train.Samples == 0 || test.Samples == 0 {
		return nil, errors.New("training and test sets must not be empty")
	}
	opt, err := NewOptimizer(net.Config)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = LogSink{}
	}
	return &Trainer{
		Net:      net,
		Train:    train,
		Test:     test,
		Sink:     sink,
		Schedule: NewSchedule(net.Config),
		opt:      opt,
	}, nil
}

// Checkpoints returns the files written so far.
func (t *Trainer) Checkpoints() []string {
	return t.saved
}

// Run trains for MaxEpoch epochs, or until the training loss falls below MinLoss. The context
// is checked before each epoch; if it is cancelled the context error is returned and the
// network keeps the weights from the last completed epoch.
func (t *Trainer) Run(ctx context.Context) error {
	start := time.Now()
	net := t.Net
	for epoch := 0; epoch < net.MaxEpoch; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := Stats{Epoch: epoch, LearningRate: net.Eta * t.Schedule.Factor(epoch)}
		var err error
		if s.TrainLoss, s.TrainAcc, err = t.TrainEpoch(s.LearningRate); err != nil {
			return err
		}
		if s.EvalLoss, s.EvalAcc, err = Evaluate(net, t.Test); err != nil {
			return err
		}
		s.Elapsed = time.Since(start)
		t.Stats = append(t.Stats, s)
		done := epoch == net.MaxEpoch-1 || (net.MinLoss > 0 && s.TrainLoss <= net.MinLoss)
		if err = t.report(s, done); err != nil {
			return err
		}
		if !net.NoSave && CheckpointDue(epoch, net.CheckpointEvery) {
			name, err := SaveCheckpoint(net, net.CheckpointDir, t.RunID, epoch)
			if err != nil {
				return err
			}
			t.saved = append(t.saved, name)
		}
		if done {
			break
		}
	}
	klog.Infof("run time: %s", time.Since(start).Round(10*time.Millisecond))
	return nil
}

// SaveModel writes the current weights to output, or to FinalName in the current directory if
// output is "-". If no epochs have completed the initial weights are saved with epoch -1.
func (t *Trainer) SaveModel(output string, now time.Time) (string, error) {
	if output == "" {
		return "", errors.New("no output file for model")
	}
	epoch := -1
	if n := len(t.Stats); n > 0 {
		epoch = t.Stats[n-1].Epoch
	}
	if output == "-" {
		output = FinalName(now, epoch+1)
	}
	if err := NewCheckpoint(t.Net, t.RunID, epoch).Save(output); err != nil {
		return "", err
	}
	if epoch < 0 {
		klog.Warningf("no epochs completed - saved initial weights to %s", output)
	} else {
		klog.Infof("saved model to %s", output)
	}
	return output, nil
}

// CheckpointDue reports if a checkpoint should be written after the given zero based epoch.
func CheckpointDue(epoch, every int) bool {
	return every > 0 && epoch%every == every-1
}

// Perform one training epoch on dataset, returns the average batch loss and the accuracy as
// a percentage of the training samples.
func (t *Trainer) TrainEpoch(learningRate float64) (loss, accuracy float64, err error) {
	net, dset := t.Net, t.Train
	if net.Shuffle {
		dset.Shuffle()
	}
	params := net.Params()
	correct := 0
	for batch := 0; batch < dset.Batches; batch++ {
		x, y := dset.GetBatch(batch)
		yPred, err := net.Fprop(x)
		if err != nil {
			return 0, 0, err
		}
		n := y.Rows()
		losses := net.OutLayer().Loss(y, yPred)
		loss += num.Sum(losses) / float64(n)
		correct += num.Correct(yPred, y, Threshold)
		// gradient of mean cross entropy with respect to the logit
		if t.grad == nil || t.grad.Rows() != n {
			t.grad = num.NewArray(n, 1)
		}
		num.Copy(t.grad, yPred)
		num.Axpy(-1, y, t.grad)
		num.Scale(1/float32(n), t.grad)
		net.Bprop(t.grad)
		t.opt.Step(params, learningRate)
		if klog.V(3).Enabled() {
			klog.Infof("batch %d: loss=%.4f", batch, num.Sum(losses)/float64(n))
		}
	}
	return loss / float64(dset.Batches), 100 * float64(correct) / float64(dset.Samples), nil
}

// Evaluate returns the average batch loss and the accuracy percentage over the dataset.
// The network parameters are not changed.
func Evaluate(net *Network, dset *Dataset) (loss, accuracy float64, err error) {
	if dset.Batches == 0 {
		return 0, 0, errors.New("evaluate: empty dataset")
	}
	correct := 0
	for batch := 0; batch < dset.Batches; batch++ {
		x, y := dset.GetBatch(batch)
		yPred, err := net.Fprop(x)
		if err != nil {
			return 0, 0, err
		}
		loss += num.Sum(net.OutLayer().Loss(y, yPred)) / float64(y.Rows())
		correct += num.Correct(yPred, y, Threshold)
	}
	return loss / float64(dset.Batches), 100 * float64(correct) / float64(dset.Samples), nil
}

// Predict returns the labels and predicted probabilities for each sample in dataset order.
func Predict(net *Network, dset *Dataset) (labels, probs []float32, err error) {
	labels = make([]float32, 0, dset.Samples)
	probs = make([]float32, 0, dset.Samples)
	for batch := 0; batch < dset.Batches; batch++ {
		x, y := dset.GetBatch(batch)
		yPred, err := net.Fprop(x)
		if err != nil {
			return nil, nil, err
		}
		labels = append(labels, y.Data...)
		probs = append(probs, yPred.Data...)
	}
	return labels, probs, nil
}

// send stats to the log and sink
func (t *Trainer) report(s Stats, done bool) error {
	every := t.Net.LogEvery
	if done || (every > 0 && s.Epoch%every == 0) {
		klog.Info(s)
	}
	t.Sink.AddScalar(TagTrainLoss, s.TrainLoss, s.Epoch)
	t.Sink.AddScalar(TagEvalLoss, s.EvalLoss, s.Epoch)
	t.Sink.AddScalar(TagTrainAcc, s.TrainAcc, s.Epoch)
	t.Sink.AddScalar(TagEvalAcc, s.EvalAcc, s.Epoch)
	t.Sink.AddScalar(TagRate, s.LearningRate, s.Epoch)
	if t.Render == nil || t.Net.SampleImages <= 0 {
		return nil
	}
	x, y := t.Test.GetBatch(0)
	yPred, err := t.Net.Fprop(x)
	if err != nil {
		return err
	}
	n := min(t.Net.SampleImages, y.Rows())
	nfeat := num.Prod(t.Test.Shape())
	xs := num.FromSlice(x.Data[:n*nfeat], append([]int{n}, t.Test.Shape()...)...)
	t.Sink.AddImage(TagSamples, t.Render(xs, y.Data[:n], yPred.Data[:n]), s.Epoch)
	return nil
}

// SetSeed returns a random source for the given seed, or a time based seed if seed <= 0.
func SetSeed(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	klog.V(1).Infof("random seed = %d", seed)
	return rand.New(rand.NewSource(seed))
}
