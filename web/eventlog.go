package web

import (
	"bufio"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EventsFile is the name of the JSON lines file in the run directory.
const EventsFile = "events.jsonl"

// Record is one line in the event log.
type Record struct {
	Time  time.Time `json:"time"`
	Tag   string    `json:"tag"`
	Step  int       `json:"step"`
	Value float64   `json:"value,omitempty"`
	Image string    `json:"image,omitempty"`
}

// EventLog writes training events to a run directory: scalars are appended to events.jsonl and
// each image is saved as a PNG file. It implements the nnet.Sink interface.
type EventLog struct {
	Dir string
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	err error
}

// NewEventLog creates the directory for the run under root and opens the event file.
func NewEventLog(root, runID string) (*EventLog, error) {
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "error creating run directory")
	}
	f, err := os.Create(filepath.Join(dir, EventsFile))
	if err != nil {
		return nil, errors.Wrap(err, "error creating event log")
	}
	klog.V(1).Infof("logging events to %s", dir)
	return &EventLog{Dir: dir, f: f, w: bufio.NewWriter(f)}, nil
}

func (l *EventLog) AddScalar(tag string, value float64, step int) {
	l.write(Record{Time: time.Now(), Tag: tag, Step: step, Value: value})
}

func (l *EventLog) AddImage(tag string, img image.Image, step int) {
	name := fmt.Sprintf("%s-%d.png", Slug(tag), step)
	if err := savePNG(filepath.Join(l.Dir, name), img); err != nil {
		l.setErr(err)
		return
	}
	l.write(Record{Time: time.Now(), Tag: tag, Step: step, Image: name})
}

// Err returns the first error encountered writing the log.
func (l *EventLog) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close flushes any buffered events and closes the file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return l.err
	}
	err := l.w.Flush()
	if err2 := l.f.Close(); err == nil {
		err = err2
	}
	l.f = nil
	if l.err == nil && err != nil {
		l.err = errors.Wrap(err, "error closing event log")
	}
	return l.err
}

func (l *EventLog) write(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		l.setErr(err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	l.w.Write(data)
	l.w.WriteByte('\n')
	if err := l.w.Flush(); err != nil && l.err == nil {
		l.err = errors.Wrap(err, "error writing event log")
		klog.Error(l.err)
	}
}

func (l *EventLog) setErr(err error) {
	klog.Errorf("event log: %v", err)
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
}

// ReadEvents loads the records from an event log file.
func ReadEvents(file string) ([]Record, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	var recs []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			return recs, errors.Wrapf(err, "error decoding %s", file)
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func savePNG(file string, img image.Image) error {
	f, err := os.Create(file)
	if err != nil {
		return errors.WithStack(err)
	}
	if err = png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "error encoding %s", file)
	}
	return errors.WithStack(f.Close())
}
