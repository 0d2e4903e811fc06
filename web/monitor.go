// Package web has the training monitor: sinks for training events which record them in memory
// or on disk, and a web server to view the loss and accuracy plots and prediction images.
package web

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JuanCldCmt/ML-mini-project/nnet"
	"github.com/JuanCldCmt/ML-mini-project/stats"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

// Point is one scalar value at a step.
type Point struct {
	Step  int
	Value float64
}

// Event is sent to websocket clients when a new value is recorded.
type Event struct {
	Type  string
	Tag   string
	Step  int
	Value float64 `json:",omitempty"`
	Time  time.Time
}

// TagSmoothedLoss is the moving average of the training loss recorded by the monitor.
const TagSmoothedLoss = "loss/Train (smoothed)"

// number of epochs in the moving average
const smoothEpochs = 10

// events buffered for each websocket client before new ones are dropped
const clientQueue = 64

type client struct {
	conn *websocket.Conn
	send chan Event
}

type figure struct {
	Tag  string
	Step int
	PNG  []byte
}

// Monitor stores training events in memory and notifies connected websocket clients. It
// implements the nnet.Sink interface and is safe for concurrent use.
type Monitor struct {
	RunID    string
	Conf     nnet.Config
	Started  time.Time
	mu       sync.Mutex
	scalars  map[string][]Point
	figures  map[string]figure
	clients  map[*websocket.Conn]*client
	smoothed stats.EMA
	finished bool
}

// NewMonitor creates an empty event store for a training run.
func NewMonitor(runID string, conf nnet.Config) *Monitor {
	return &Monitor{
		RunID:   runID,
		Conf:    conf,
		Started: time.Now(),
		scalars: make(map[string][]Point),
		figures: make(map[string]figure),
		clients: make(map[*websocket.Conn]*client),
	}
}

func (m *Monitor) AddScalar(tag string, value float64, step int) {
	m.mu.Lock()
	m.scalars[tag] = append(m.scalars[tag], Point{Step: step, Value: value})
	if tag == nnet.TagTrainLoss && !math.IsNaN(value) && !math.IsInf(value, 0) {
		m.smoothed = stats.EMA(m.smoothed.Add(value, smoothEpochs))
		m.scalars[TagSmoothedLoss] = append(m.scalars[TagSmoothedLoss], Point{Step: step, Value: float64(m.smoothed)})
	}
	m.mu.Unlock()
	m.broadcast(Event{Type: "scalar", Tag: tag, Step: step, Value: value, Time: time.Now()})
}

func (m *Monitor) AddImage(tag string, img image.Image, step int) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		klog.Errorf("encode image %s: %v", tag, err)
		return
	}
	m.mu.Lock()
	m.figures[Slug(tag)] = figure{Tag: tag, Step: step, PNG: buf.Bytes()}
	m.mu.Unlock()
	m.broadcast(Event{Type: "image", Tag: tag, Step: step, Time: time.Now()})
}

// Finish marks the run as complete and notifies clients.
func (m *Monitor) Finish() {
	m.mu.Lock()
	m.finished = true
	m.mu.Unlock()
	m.broadcast(Event{Type: "done", Time: time.Now()})
}

// Finished reports if the run has completed.
func (m *Monitor) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

// Scalars returns a copy of the values recorded for tag.
func (m *Monitor) Scalars(tag string) []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Point{}, m.scalars[tag]...)
}

// Tags returns the sorted list of scalar tags.
func (m *Monitor) Tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tags := make([]string, 0, len(m.scalars))
	for tag := range m.scalars {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Figure returns the latest PNG image recorded with the given slug.
func (m *Monitor) Figure(slug string) (tag string, step int, data []byte, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.figures[slug]
	return f.Tag, f.Step, f.PNG, ok
}

// Figures returns the slugs of the stored images.
func (m *Monitor) Figures() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for slug := range m.figures {
		names = append(names, slug)
	}
	sort.Strings(names)
	return names
}

// Epoch returns the last step with a recorded value, or -1 if there are none.
func (m *Monitor) Epoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	epoch := -1
	for _, pts := range m.scalars {
		if n := len(pts); n > 0 && pts[n-1].Step > epoch {
			epoch = pts[n-1].Step
		}
	}
	return epoch
}

// addClient registers the connection and starts a goroutine to write its events.
func (m *Monitor) addClient(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan Event, clientQueue)}
	m.mu.Lock()
	m.clients[conn] = c
	m.mu.Unlock()
	go m.writeEvents(c)
}

func (m *Monitor) writeEvents(c *client) {
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			klog.V(1).Infof("websocket write: %v", err)
			m.removeClient(c.conn)
			return
		}
	}
}

func (m *Monitor) removeClient(conn *websocket.Conn) {
	m.mu.Lock()
	if c, ok := m.clients[conn]; ok {
		delete(m.clients, conn)
		close(c.send)
		conn.Close()
	}
	m.mu.Unlock()
}

// queue event for each client without waiting for the writes, a client whose queue is full
// misses the event
func (m *Monitor) broadcast(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		select {
		case c.send <- ev:
		default:
			klog.V(1).Infof("websocket client queue full: dropped %s event", ev.Type)
		}
	}
}

// Slug converts a tag to a name for use in a URL or file name.
func Slug(tag string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(tag) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
