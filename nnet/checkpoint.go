package nnet

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/JuanCldCmt/ML-mini-project/num"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tensor is the serialised form of a parameter array.
type Tensor struct {
	Dims []int
	Data []float32
}

// Checkpoint holds the network definition and parameter values. It has enough information to
// rebuild the network without the original config file.
type Checkpoint struct {
	RunID   string
	Epoch   int
	Created time.Time
	Input   []int
	Layers  []LayerConfig
	Params  map[string]Tensor
}

// NewCheckpoint takes a copy of the current network parameters.
func NewCheckpoint(net *Network, runID string, epoch int) *Checkpoint {
	c := &Checkpoint{
		RunID:   runID,
		Epoch:   epoch,
		Created: time.Now(),
		Input:   append([]int{}, net.InShape()...),
		Layers:  append([]LayerConfig{}, net.Config.Layers...),
		Params:  make(map[string]Tensor),
	}
	for _, p := range net.Params() {
		c.Params[p.Name] = Tensor{Dims: append([]int{}, p.W.Dims()...), Data: append([]float32{}, p.W.Data...)}
	}
	return c
}

// Network builds a new network from the checkpoint using the other settings from conf.
func (c *Checkpoint) Network(conf Config) (*Network, error) {
	conf.Layers = c.Layers
	net, err := New(conf, c.Input)
	if err != nil {
		return nil, err
	}
	return net, c.Restore(net)
}

// Restore copies the saved parameters into net, which must have the same structure.
func (c *Checkpoint) Restore(net *Network) error {
	params := net.Params()
	if len(params) != len(c.Params) {
		return errors.Errorf("checkpoint has %d parameters, network has %d", len(c.Params), len(params))
	}
	for _, p := range params {
		t, ok := c.Params[p.Name]
		if !ok {
			return errors.Errorf("parameter %s missing from checkpoint", p.Name)
		}
		if !num.SameShape(t.Dims, p.W.Dims()) {
			return errors.Wrapf(ErrShape, "parameter %s: checkpoint %v network %v", p.Name, t.Dims, p.W.Dims())
		}
		copy(p.W.Data, t.Data)
	}
	return nil
}

// Save encodes the checkpoint in gob format. The file is written to a temporary name which
// is renamed on success.
func (c *Checkpoint) Save(name string) error {
	tmp := name + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "save checkpoint")
	}
	if err = gob.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "encode checkpoint %s", name)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "save checkpoint")
	}
	return errors.Wrap(os.Rename(tmp, name), "save checkpoint")
}

// LoadCheckpoint reads a checkpoint saved with Save.
func LoadCheckpoint(name string) (*Checkpoint, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}
	defer f.Close()
	c := new(Checkpoint)
	if err = gob.NewDecoder(f).Decode(c); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", name)
	}
	return c, nil
}

// SaveCheckpoint writes the network parameters to dir/<epoch>.ckpt, creating dir if needed.
func SaveCheckpoint(net *Network, dir, runID string, epoch int) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create checkpoint dir")
	}
	name := filepath.Join(dir, strconv.Itoa(epoch)+".ckpt")
	if err := NewCheckpoint(net, runID, epoch).Save(name); err != nil {
		return "", err
	}
	klog.V(1).Infof("saved checkpoint %s", name)
	return name, nil
}

// FinalName is the default file name for the trained model: <YYYY-MM-DD>-<epochs>.ckpt
func FinalName(t time.Time, epochs int) string {
	return t.Format("2006-01-02") + "-" + strconv.Itoa(epochs) + ".ckpt"
}
