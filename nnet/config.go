package nnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Training configuration settings
type Config struct {
	ImageWidth      int
	ImageHeight     int
	TestSize        float64
	LabelMode       string
	Optimizer       string
	Eta             float64
	Beta1           float64
	Beta2           float64
	Epsilon         float64
	Schedule        string
	EtaDecay        float64
	DecayEpochs     float64
	Shuffle         bool
	Distort         bool
	TrainBatch      int
	TestBatch       int
	MaxEpoch        int
	MinLoss         float64
	RandSeed        int64
	Threads         int
	CheckpointDir   string
	CheckpointEvery int
	NoSave          bool
	LogEvery        int
	SampleImages    int
	Layers          []LayerConfig
}

// DefaultConfig returns the settings used to train the smile classifier, with the default
// two stage convolutional network.
func DefaultConfig() Config {
	c := Config{
		ImageWidth:      180,
		ImageHeight:     192,
		TestSize:        0.3,
		LabelMode:       "positional",
		Optimizer:       "adam",
		Eta:             1e-5,
		Beta1:           0.9,
		Beta2:           0.999,
		Epsilon:         1e-8,
		Schedule:        "linear",
		EtaDecay:        0.1,
		DecayEpochs:     0.7,
		TrainBatch:      64,
		TestBatch:       64,
		MaxEpoch:        300,
		RandSeed:        1,
		Threads:         DefaultThreads(),
		CheckpointDir:   "checkpoints",
		CheckpointEvery: 3,
		LogEvery:        1,
		SampleImages:    12,
	}
	return c.AddLayers(SmileLayers()...)
}

// SmileLayers is the default network: two convolution and pooling stages followed by a
// fully connected hidden layer and a single logistic output unit.
func SmileLayers() []ConfigLayer {
	return []ConfigLayer{
		Conv{Nfeats: 32, Size: 5, Pad: 2},
		Activation{Atype: "relu"},
		MaxPool{Size: 2},
		Conv{Nfeats: 64, Size: 5, Pad: 2},
		Activation{Atype: "relu"},
		MaxPool{Size: 2},
		Flatten{},
		Linear{Nout: 512},
		Activation{Atype: "relu"},
		Linear{Nout: 1},
		Logistic{},
	}
}

// Load config from json file
func LoadConfig(name string) (c Config, err error) {
	f, err := os.Open(name)
	if err != nil {
		return c, errors.Wrap(err, "load config")
	}
	defer f.Close()
	klog.Infof("loading network config from %s", name)
	c = DefaultConfig()
	c.Layers = nil
	if err = json.NewDecoder(f).Decode(&c); err != nil {
		return c, errors.Wrapf(err, "decode config %s", name)
	}
	if c.Layers == nil {
		c = c.AddLayers(SmileLayers()...)
	}
	return c, nil
}

// Append layers to the config struct
func (c Config) AddLayers(layers ...ConfigLayer) Config {
	for _, l := range layers {
		c.Layers = append(c.Layers, l.Marshal())
	}
	return c
}

// Save config to JSON file, the file is written to a temporary name first and then renamed
func (c Config) Save(name string) error {
	tmp := filepath.Join(filepath.Dir(name), "."+filepath.Base(name))
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "save config")
	}
	klog.Infof("saving network config to %s", name)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "encode config %s", name)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "save config")
	}
	return errors.Wrap(os.Rename(tmp, name), "save config")
}

// Validate checks the settings are within range.
func (c Config) Validate() error {
	switch {
	case c.ImageWidth < 1 || c.ImageHeight < 1:
		return errors.Errorf("invalid image size %dx%d", c.ImageWidth, c.ImageHeight)
	case c.TestSize <= 0 || c.TestSize >= 1:
		return errors.Errorf("test size %g must be between 0 and 1", c.TestSize)
	case c.TrainBatch < 1 || c.TestBatch < 1:
		return errors.Errorf("invalid batch size train=%d test=%d", c.TrainBatch, c.TestBatch)
	case c.MaxEpoch < 0:
		return errors.Errorf("invalid epoch count %d", c.MaxEpoch)
	case c.Eta <= 0:
		return errors.Errorf("learning rate must be positive: %g", c.Eta)
	case c.CheckpointEvery < 1:
		return errors.Errorf("checkpoint interval must be at least 1: %d", c.CheckpointEvery)
	case c.LabelMode != "positional" && c.LabelMode != "keyed":
		return errors.Errorf("invalid label mode %q", c.LabelMode)
	case c.Optimizer != "adam" && c.Optimizer != "sgd":
		return errors.Errorf("invalid optimizer %q", c.Optimizer)
	case c.Schedule != "linear" && c.Schedule != "constant":
		return errors.Errorf("invalid learning rate schedule %q", c.Schedule)
	case len(c.Layers) == 0:
		return errors.New("no layers defined")
	}
	return nil
}

// Fields returns the names of the scalar settings, excluding the layer definitions.
func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField()-1)
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) configString() string {
	fields := c.Fields()
	str := []string{"== Config =="}
	for _, key := range fields {
		str = append(str, fmt.Sprintf("%-16s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

func (c Config) String() string {
	s := c.configString()
	if c.Layers != nil {
		str := []string{"\n== Network =="}
		for i, layer := range c.Layers {
			str = append(str, fmt.Sprintf("%2d: %s", i, layer))
		}
		s += strings.Join(str, "\n")
	}
	return s
}

// SetString parses val according to the type of the named field and updates it.
func (c Config) SetString(key, val string) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if !f.IsValid() {
		return c, errors.Errorf("unknown config field %q", key)
	}
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.Bool:
		var x bool
		if x, err = strconv.ParseBool(val); err == nil {
			f.SetBool(x)
		}
	case reflect.String:
		f.SetString(val)
	default:
		return c, errors.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return c, errors.Wrapf(err, "set %s", key)
}

func (c Config) SetBool(key string, val bool) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if f.IsValid() && f.Type().Kind() == reflect.Bool {
		f.SetBool(val)
		return c, nil
	}
	return c, errors.Errorf("invalid field for SetBool: %s", key)
}
