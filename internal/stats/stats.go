package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// Metric names tracked by the chat server.
const (
	ActiveClients     = "ActiveClients"
	ActiveRooms       = "ActiveRooms"
	RoomSubscriptions = "RoomSubscriptions"
	MessagesPersisted = "MessagesPersisted"
)

type Provider interface {
	Incr(name string)
	Decr(name string)
	Run()
}

// Recorder maintains expvar counters behind a channel so callers on hot
// paths never contend on the expvar map.
type Recorder struct {
	vars    *expvar.Map
	updates chan metricUpdate
}

type metricUpdate struct {
	name  string
	delta int64
}

// NewRecorder registers the chat server's counters and mounts the metrics
// endpoint on the given mux.
func NewRecorder(mux *http.ServeMux) *Recorder {
	rec := &Recorder{
		vars:    new(expvar.Map).Init(),
		updates: make(chan metricUpdate, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(rec.serveVars))

	startTime := time.Now()
	rec.vars.Set("UptimeMs", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	for _, name := range []string{ActiveClients, ActiveRooms, RoomSubscriptions, MessagesPersisted} {
		rec.vars.Set(name, new(expvar.Int))
	}

	return rec
}

func (rec *Recorder) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	data := make(map[string]any)
	rec.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})

	json.NewEncoder(w).Encode(data)
}

func (rec *Recorder) apply() {
	for u := range rec.updates {
		v := rec.vars.Get(u.name)
		if v == nil {
			panic("unknown metric: " + u.name)
		}

		v.(*expvar.Int).Add(u.delta)
	}
}

func (rec *Recorder) Incr(name string) {
	rec.updates <- metricUpdate{name: name, delta: 1}
}

func (rec *Recorder) Decr(name string) {
	rec.updates <- metricUpdate{name: name, delta: -1}
}

func (rec *Recorder) Run() {
	go rec.apply()
}

func (rec *Recorder) Stop() {
	close(rec.updates)
}
