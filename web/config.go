package web

import (
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/JuanCldCmt/ML-mini-project/nnet"
)

type ConfigPage struct {
	*Templates
	Fields []Field
	Layers []Layer
	File   string
	conf   nnet.Config
	sync.Mutex
}

type Field struct {
	Name    string
	Value   string
	Error   string
	Boolean bool
	On      bool
}

type Layer struct {
	Index int
	Desc  string
}

// Base data for handler functions to view the run config and save an updated copy for the next
// run. If file is blank then the save option is disabled.
func NewConfigPage(t *Templates, conf nnet.Config, file string) *ConfigPage {
	p := &ConfigPage{conf: conf, File: file}
	p.Templates = t.Clone().Select("/config")
	if file != "" {
		p.AddOption(Link{Name: "save", Url: "/config/save", Submit: true})
	}
	p.Fields = getFields(conf)
	p.Layers = getLayers(conf)
	return p
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		if err := p.ExecuteTemplate(w, "config", p); err != nil {
			logError(w, err)
		}
	}
}

// Handler function for the config form save action
func (p *ConfigPage) Save() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		if p.File == "" {
			http.Error(w, "config save disabled", http.StatusForbidden)
			return
		}
		r.ParseForm()
		haveErrors := false
		conf := p.conf
		for i, fld := range p.Fields {
			val := r.Form.Get(fld.Name)
			var err error
			if fld.Boolean {
				p.Fields[i].On = (val == "true")
				conf, err = conf.SetBool(fld.Name, p.Fields[i].On)
			} else {
				p.Fields[i].Value = val
				conf, err = conf.SetString(fld.Name, val)
			}
			p.Fields[i].Error = ""
			if err != nil {
				p.Fields[i].Error = "invalid syntax"
				haveErrors = true
			}
		}
		if !haveErrors {
			if err := conf.Validate(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := conf.Save(p.File); err != nil {
				logError(w, err)
				return
			}
			p.conf = conf
		}
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

func (p *ConfigPage) Heading() template.HTML {
	if p.File == "" {
		return template.HTML("run config")
	}
	return template.HTML(fmt.Sprintf("config: %s", template.HTMLEscapeString(p.File)))
}

func getFields(conf nnet.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		f := Field{Name: key, Value: fmt.Sprint(conf.Get(key))}
		f.On, f.Boolean = conf.Get(key).(bool)
		flds = append(flds, f)
	}
	return flds
}

func getLayers(conf nnet.Config) []Layer {
	layers := make([]Layer, len(conf.Layers))
	for i, l := range conf.Layers {
		layers[i].Index = i
		layers[i].Desc = l.String()
	}
	return layers
}
