package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options for the monitor web server.
type Options struct {
	Addr       string
	User       string
	Password   string
	ConfigFile string
}

// Server serves the training monitor pages.
type Server struct {
	*http.Server
	Train  *TrainPage
	Config *ConfigPage
}

// NewServer sets up the routes to view the events recorded by the monitor. If a user name is
// given then requests must be authenticated.
func NewServer(mon *Monitor, opts Options) (*Server, error) {
	t, err := NewTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "error loading templates")
	}
	s := &Server{
		Train:  NewTrainPage(t, mon),
		Config: NewConfigPage(t, mon.Conf, opts.ConfigFile),
	}
	r := mux.NewRouter()
	r.Handle("/", http.RedirectHandler("/train", http.StatusFound))
	r.HandleFunc("/train", s.Train.Base()).Methods("GET")
	r.HandleFunc("/stats", s.Train.Stats()).Methods("GET")
	r.HandleFunc("/plot/{name}.svg", s.Train.Plot()).Methods("GET")
	r.HandleFunc("/figure/{name}.png", s.Train.Figure()).Methods("GET")
	r.HandleFunc("/events", s.Train.Events()).Methods("GET")
	r.HandleFunc("/ws", s.Train.Websocket())
	r.HandleFunc("/config", s.Config.Base()).Methods("GET")
	r.HandleFunc("/config/save", s.Config.Save()).Methods("POST")
	var handler http.Handler = r
	if opts.User != "" {
		handler = NewAuthMiddleware(opts.User, opts.Password).Middleware(r)
	}
	s.Server = &http.Server{Addr: opts.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		klog.Infof("starting web server at http://%s", s.Addr)
		errc <- s.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return errors.Wrap(err, "web server")
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdown)
}
