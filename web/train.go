package web

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/JuanCldCmt/ML-mini-project/nnet"
	"github.com/JuanCldCmt/ML-mini-project/stats"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Columns of the stats table, in display order.
var StatsHeaders = []string{"epoch", "train loss", "eval loss", "train accuracy", "eval accuracy", "learning rate"}

var statsTags = []string{nnet.TagTrainLoss, nnet.TagEvalLoss, nnet.TagTrainAcc, nnet.TagEvalAcc, nnet.TagRate}

type TrainPage struct {
	*Templates
	mon *Monitor
}

// StatsRow is one line of the stats table.
type StatsRow struct {
	Epoch  int
	Values []string
}

// Base data for handler functions to display the training progress
func NewTrainPage(t *Templates, mon *Monitor) *TrainPage {
	p := &TrainPage{mon: mon}
	p.Templates = t.Clone().Select("/train")
	p.AddOption(Link{Name: "events", Url: "/events"})
	return p
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.ExecuteTemplate(w, "train", p); err != nil {
			logError(w, err)
		}
	}
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.ExecuteTemplate(w, "stats", p); err != nil {
			logError(w, err)
		}
	}
}

// Handler function to render one of the history plots as SVG
func (p *TrainPage) Plot() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if _, ok := PlotSeries[name]; !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		if err := p.mon.HistoryPlot(w, name, 600, 300); err != nil {
			logError(w, err)
		}
	}
}

// Handler function to return the latest image for a tag in PNG format
func (p *TrainPage) Figure() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, data, ok := p.mon.Figure(mux.Vars(r)["name"])
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// Handler function to return all of the recorded scalars as JSON
func (p *TrainPage) Events() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		res := struct {
			RunID    string
			Epoch    int
			Finished bool
			Scalars  map[string][]Point
		}{
			RunID:    p.mon.RunID,
			Epoch:    p.mon.Epoch(),
			Finished: p.mon.Finished(),
			Scalars:  make(map[string][]Point),
		}
		for _, tag := range p.mon.Tags() {
			res.Scalars[tag] = p.mon.Scalars(tag)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			klog.Errorf("encode events: %v", err)
		}
	}
}

// Handler function for websocket connection. Events are pushed to the client until the
// connection is closed.
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			klog.Errorf("websocket upgrade: %v", err)
			return
		}
		p.mon.addClient(conn)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				p.mon.removeClient(conn)
				return
			}
		}
	}
}

func (p *TrainPage) Heading() template.HTML {
	status := ""
	if p.mon.Finished() {
		status = " (done)"
	}
	s := fmt.Sprintf(`run %s: epoch <span id="epoch">%d</span> of %d%s`,
		template.HTMLEscapeString(p.mon.RunID), p.mon.Epoch()+1, p.mon.Conf.MaxEpoch, status)
	return template.HTML(s)
}

func (p *TrainPage) Headers() []string {
	return StatsHeaders
}

// LatestStats returns up to n rows for the most recent epochs, newest first.
func (p *TrainPage) LatestStats(n int) []StatsRow {
	byEpoch := map[int][]string{}
	for i, tag := range statsTags {
		for _, pt := range p.mon.Scalars(tag) {
			if byEpoch[pt.Step] == nil {
				byEpoch[pt.Step] = make([]string, len(statsTags))
			}
			switch tag {
			case nnet.TagRate:
				byEpoch[pt.Step][i] = fmt.Sprintf("%.3g", pt.Value)
			case nnet.TagTrainAcc, nnet.TagEvalAcc:
				byEpoch[pt.Step][i] = fmt.Sprintf("%.1f%%", pt.Value)
			default:
				byEpoch[pt.Step][i] = fmt.Sprintf("%.4f", pt.Value)
			}
		}
	}
	var rows []StatsRow
	for epoch := p.mon.Epoch(); epoch >= 0 && len(rows) < n; epoch-- {
		if vals, ok := byEpoch[epoch]; ok {
			rows = append(rows, StatsRow{Epoch: epoch + 1, Values: vals})
		}
	}
	return rows
}

// RecentAccuracy returns the mean and standard deviation of the eval accuracy over the last n epochs.
func (p *TrainPage) RecentAccuracy(n int) template.HTML {
	pts := p.mon.Scalars(nnet.TagEvalAcc)
	if len(pts) == 0 {
		return "-"
	}
	var avg stats.Average
	for _, pt := range pts[max(0, len(pts)-n):] {
		avg.Add(pt.Value)
	}
	return avg.HTML()
}

func (p *TrainPage) RunTime() string {
	return fmt.Sprintf("run time: %s", time.Since(p.mon.Started).Round(time.Second))
}

func (p *TrainPage) LossPlot(width, height int) template.HTML {
	return p.mon.PlotHTML("loss", width, height)
}

func (p *TrainPage) AccuracyPlot(width, height int) template.HTML {
	return p.mon.PlotHTML("accuracy", width, height)
}

func (p *TrainPage) Figures() []string {
	return p.mon.Figures()
}
