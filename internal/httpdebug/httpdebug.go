// Package httpdebug exposes read-only JSON introspection endpoints over
// HTTP for a running engine and server: connection counts, recent
// disconnect history, and queue depth. It never accepts writes and carries
// no authentication of its own; it is meant to be bound to a loopback or
// otherwise trusted address.
package httpdebug

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qorix-group/message-passing/internal/diagnostics"
	"github.com/qorix-group/message-passing/internal/server"
)

// EngineStats is a snapshot of reactor-level counters.
type EngineStats struct {
	PendingCommands int `json:"pendingCommands"`
}

// StatsProvider is satisfied by engine.Engine for the one counter this
// package needs, kept as an interface so tests can substitute a stub
// without starting a real reactor.
type StatsProvider interface {
	PendingCommands() int
}

// Router builds a chi router exposing /debug/engine, /debug/server, and
// /debug/disconnects. Any of stats, srv or history may be nil, in which case
// the corresponding route reports zero values (a JSON null for
// /debug/disconnects) instead of panicking.
func Router(stats StatsProvider, srv *server.Server, history *diagnostics.DisconnectHistory) chi.Router {
	r := chi.NewRouter()

	r.Get("/debug/engine", func(w http.ResponseWriter, req *http.Request) {
		s := EngineStats{}
		if stats != nil {
			s.PendingCommands = stats.PendingCommands()
		}
		writeJSON(w, s)
	})

	r.Get("/debug/server", func(w http.ResponseWriter, req *http.Request) {
		s := struct {
			Connections int `json:"connections"`
		}{}
		if srv != nil {
			s.Connections = srv.ConnectionCount()
		}
		writeJSON(w, s)
	})

	r.Get("/debug/disconnects", func(w http.ResponseWriter, req *http.Request) {
		type record struct {
			PID       int32     `json:"pid"`
			UID       uint32    `json:"uid"`
			GID       uint32    `json:"gid"`
			Reason    string    `json:"reason"`
			Err       string    `json:"error,omitempty"`
			Timestamp time.Time `json:"timestamp"`
		}
		var out []record
		if history != nil {
			for _, rec := range history.Recent() {
				out = append(out, record{
					PID:       rec.Identity.PID,
					UID:       rec.Identity.UID,
					GID:       rec.Identity.GID,
					Reason:    rec.Reason.String(),
					Err:       rec.Err,
					Timestamp: rec.Timestamp,
				})
			}
		}
		writeJSON(w, out)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
