package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JuanCldCmt/ML-mini-project/nnet"
	"github.com/JuanCldCmt/ML-mini-project/stats"
	"github.com/gorilla/websocket"
)

func testImage() image.Image {
	m := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			m.Set(x, y, color.RGBA{uint8(x * 32), uint8(y * 32), 0, 255})
		}
	}
	return m
}

func testMonitor() *Monitor {
	conf := nnet.DefaultConfig()
	conf.MaxEpoch = 5
	mon := NewMonitor("test-run", conf)
	for epoch := 0; epoch < 3; epoch++ {
		mon.AddScalar(nnet.TagTrainLoss, 0.7-0.1*float64(epoch), epoch)
		mon.AddScalar(nnet.TagEvalLoss, 0.75-0.1*float64(epoch), epoch)
		mon.AddScalar(nnet.TagTrainAcc, 50+10*float64(epoch), epoch)
		mon.AddScalar(nnet.TagEvalAcc, 45+10*float64(epoch), epoch)
		mon.AddScalar(nnet.TagRate, 1e-3, epoch)
	}
	mon.AddImage(nnet.TagSamples, testImage(), 2)
	return mon
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestSlug(t *testing.T) {
	for tag, exp := range map[string]string{
		nnet.TagSamples:   "predictions-vs-actuals",
		nnet.TagTrainLoss: "loss-train",
		"  Odd__Tag!! ":   "odd-tag",
	} {
		if s := Slug(tag); s != exp {
			t.Errorf("slug %q: got %q expected %q", tag, s, exp)
		}
	}
}

func TestMonitor(t *testing.T) {
	mon := testMonitor()
	if e := mon.Epoch(); e != 2 {
		t.Errorf("epoch: got %d", e)
	}
	pts := mon.Scalars(nnet.TagEvalAcc)
	if len(pts) != 3 || pts[2] != (Point{Step: 2, Value: 65}) {
		t.Errorf("eval accuracy: %v", pts)
	}
	if tags := mon.Tags(); len(tags) != 6 {
		t.Errorf("tags: %v", tags)
	}
	smoothed := mon.Scalars(TagSmoothedLoss)
	if len(smoothed) != 3 || smoothed[0].Value != 0.7 {
		t.Fatalf("smoothed loss: %v", smoothed)
	}
	for i := 1; i < 3; i++ {
		train := mon.Scalars(nnet.TagTrainLoss)[i].Value
		if v := smoothed[i].Value; v >= smoothed[i-1].Value || v <= train {
			t.Errorf("smoothed loss at %d: %v", i, smoothed)
		}
	}
	tag, step, data, ok := mon.Figure("predictions-vs-actuals")
	if !ok || tag != nnet.TagSamples || step != 2 || len(data) == 0 {
		t.Errorf("figure: %s %d %d %v", tag, step, len(data), ok)
	}
	if mon.Finished() {
		t.Error("finished before Finish called")
	}
	mon.Finish()
	if !mon.Finished() {
		t.Error("expected finished")
	}
}

func TestServer(t *testing.T) {
	mon := testMonitor()
	s, err := NewServer(mon, Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler)
	defer srv.Close()

	resp, body := get(t, srv, "/train")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "test-run") || !strings.Contains(body, "<svg") {
		t.Errorf("train page: %s\n%s", resp.Status, body)
	}
	if !strings.Contains(body, `src="/figure/predictions-vs-actuals.png"`) {
		t.Error("train page missing figure")
	}
	if !strings.Contains(body, "55.0&PlusMinus;10.0%") {
		t.Error("train page missing recent accuracy")
	}
	for _, name := range []string{"loss", "accuracy", "lr"} {
		resp, body = get(t, srv, "/plot/"+name+".svg")
		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/svg+xml" || !strings.Contains(body, "<svg") {
			t.Errorf("plot %s: %s %s", name, resp.Status, resp.Header.Get("Content-Type"))
		}
	}
	if resp, _ = get(t, srv, "/plot/other.svg"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown plot: %s", resp.Status)
	}
	resp, body = get(t, srv, "/figure/predictions-vs-actuals.png")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(body, "\x89PNG") {
		t.Errorf("figure: %s", resp.Status)
	}
	if resp, _ = get(t, srv, "/figure/missing.png"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing figure: %s", resp.Status)
	}

	resp, body = get(t, srv, "/events")
	var events struct {
		RunID   string
		Epoch   int
		Scalars map[string][]Point
	}
	if err := json.Unmarshal([]byte(body), &events); err != nil {
		t.Fatal(err)
	}
	if events.RunID != "test-run" || events.Epoch != 2 || len(events.Scalars[nnet.TagTrainLoss]) != 3 {
		t.Errorf("events: %+v", events)
	}

	resp, body = get(t, srv, "/config")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "MaxEpoch") || !strings.Contains(body, "conv") {
		t.Errorf("config page: %s\n%s", resp.Status, body)
	}
	resp, err = srv.Client().PostForm(srv.URL+"/config/save", url.Values{"MaxEpoch": {"10"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("save without file: %s", resp.Status)
	}
}

func TestConfigSave(t *testing.T) {
	mon := testMonitor()
	file := filepath.Join(t.TempDir(), "smile.json")
	s, err := NewServer(mon, Options{ConfigFile: file})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler)
	defer srv.Close()

	form := url.Values{}
	for _, f := range s.Config.Fields {
		if f.Boolean {
			if f.On {
				form.Set(f.Name, "true")
			}
		} else {
			form.Set(f.Name, f.Value)
		}
	}
	form.Set("MaxEpoch", "42")
	resp, err := srv.Client().PostForm(srv.URL+"/config/save", form)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save: %s", resp.Status)
	}
	conf, err := nnet.LoadConfig(file)
	if err != nil {
		t.Fatal(err)
	}
	if conf.MaxEpoch != 42 || len(conf.Layers) != len(mon.Conf.Layers) {
		t.Errorf("saved config: %v", conf)
	}

	form.Set("Eta", "fast")
	resp, err = srv.Client().PostForm(srv.URL+"/config/save", form)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	s.Config.Lock()
	defer s.Config.Unlock()
	for _, f := range s.Config.Fields {
		if f.Name == "Eta" && f.Error == "" {
			t.Error("expected error for invalid Eta")
		}
	}
}

func TestAuth(t *testing.T) {
	s, err := NewServer(testMonitor(), Options{User: "admin", Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler)
	defer srv.Close()

	if resp, _ := get(t, srv, "/events"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no credentials: %s", resp.Status)
	}
	req, _ := http.NewRequest("GET", srv.URL+"/events", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password: %s", resp.Status)
	}

	req.SetBasicAuth("admin", "secret")
	if resp, err = srv.Client().Do(req); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	cookies := resp.Cookies()
	if resp.StatusCode != http.StatusOK || len(cookies) != 1 || cookies[0].Name != sessionName {
		t.Fatalf("login: %s cookies=%v", resp.Status, cookies)
	}

	req, _ = http.NewRequest("GET", srv.URL+"/events", nil)
	req.AddCookie(cookies[0])
	if resp, err = srv.Client().Do(req); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("session cookie: %s", resp.Status)
	}
}

func TestWebsocket(t *testing.T) {
	mon := NewMonitor("ws", nnet.DefaultConfig())
	s, err := NewServer(mon, Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	for start := time.Now(); ; time.Sleep(10 * time.Millisecond) {
		mon.mu.Lock()
		n := len(mon.clients)
		mon.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Since(start) > 5*time.Second {
			t.Fatal("timeout waiting for client")
		}
	}
	mon.AddScalar(nnet.TagEvalLoss, 0.25, 7)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "scalar" || ev.Tag != nnet.TagEvalLoss || ev.Step != 7 || ev.Value != 0.25 {
		t.Errorf("event: %+v", ev)
	}
}

// a client which is not reading should not hold up training
func TestWebsocketSlowClient(t *testing.T) {
	mon := NewMonitor("ws", nnet.DefaultConfig())
	s, err := NewServer(mon, Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	for start := time.Now(); ; time.Sleep(10 * time.Millisecond) {
		mon.mu.Lock()
		n := len(mon.clients)
		mon.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Since(start) > 5*time.Second {
			t.Fatal("timeout waiting for client")
		}
	}
	mon.mu.Lock()
	mon.clients[nil] = &client{send: make(chan Event)}
	mon.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for step := 0; step < 2*clientQueue; step++ {
			mon.AddScalar(nnet.TagEvalLoss, 0.5, step)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("AddScalar blocked by slow client")
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Tag != nnet.TagEvalLoss || ev.Step != 0 {
		t.Errorf("first event: %+v", ev)
	}
}

// a diverging run records NaN or Inf values which are left out of the plot
func TestHistoryPlotNonFinite(t *testing.T) {
	mon := NewMonitor("nan", nnet.DefaultConfig())
	mon.AddScalar(nnet.TagTrainLoss, 0.7, 0)
	mon.AddScalar(nnet.TagTrainLoss, math.NaN(), 1)
	mon.AddScalar(nnet.TagTrainLoss, math.Inf(1), 2)
	mon.AddScalar(nnet.TagEvalLoss, math.NaN(), 0)
	var buf bytes.Buffer
	if err := mon.HistoryPlot(&buf, "loss", 300, 200); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "<svg") {
		t.Error("expected svg output")
	}
	if n := len(mon.Scalars(TagSmoothedLoss)); n != 1 {
		t.Errorf("expected 1 smoothed loss value, got %d", n)
	}

	s, err := NewServer(mon, Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler)
	defer srv.Close()
	if resp, body := get(t, srv, "/plot/loss.svg"); resp.StatusCode != http.StatusOK || !strings.Contains(body, "<svg") {
		t.Errorf("loss plot: %s", resp.Status)
	}
	if resp, body := get(t, srv, "/train"); resp.StatusCode != http.StatusOK || !strings.Contains(body, "<svg") {
		t.Errorf("train page: %s", resp.Status)
	}
}

func TestEventLog(t *testing.T) {
	root := t.TempDir()
	l, err := NewEventLog(root, "run1")
	if err != nil {
		t.Fatal(err)
	}
	sink := nnet.MultiSink{l, NewMonitor("run1", nnet.DefaultConfig())}
	sink.AddScalar(nnet.TagTrainLoss, 0.5, 0)
	sink.AddScalar(nnet.TagTrainLoss, 0.4, 1)
	sink.AddImage(nnet.TagSamples, testImage(), 1)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	recs, err := ReadEvents(filepath.Join(root, "run1", EventsFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 || recs[1].Value != 0.4 || recs[1].Step != 1 || recs[2].Image != "predictions-vs-actuals-1.png" {
		t.Fatalf("records: %+v", recs)
	}
	if _, err := os.Stat(filepath.Join(root, "run1", recs[2].Image)); err != nil {
		t.Error(err)
	}
	// events after close are dropped
	l.AddScalar(nnet.TagTrainLoss, 0.3, 2)
	if err := l.Err(); err != nil {
		t.Error(err)
	}
}

func TestCurvePlot(t *testing.T) {
	labels := []float32{0, 0, 1, 1}
	scores := []float32{0.1, 0.4, 0.35, 0.8}
	file := filepath.Join(t.TempDir(), "roc.svg")
	f, err := os.Create(file)
	if err != nil {
		t.Fatal(err)
	}
	if err := CurvePlot(f, stats.ROC(labels, scores), "ROC", "false positive rate", "true positive rate", true, 400, 400); err != nil {
		t.Fatal(err)
	}
	f.Close()
	data, err := os.ReadFile(file)
	if err != nil || !strings.Contains(string(data), "<svg") {
		t.Errorf("roc plot: %v", err)
	}
}

func TestServerRun(t *testing.T) {
	s, err := NewServer(testMonitor(), Options{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Error(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}
