package httpdebug

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/qorix-group/message-passing/internal/diagnostics"
	"github.com/qorix-group/message-passing/internal/domain/model"
)

type stubStats struct{ pending int }

func (s stubStats) PendingCommands() int { return s.pending }

func TestRouterEngineStats(t *testing.T) {
	r := Router(stubStats{pending: 3}, nil, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/debug/engine", nil)
	r.ServeHTTP(w, req)

	var got EngineStats
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.PendingCommands != 3 {
		t.Errorf("PendingCommands = %d, want 3", got.PendingCommands)
	}
}

func TestRouterServerStatsNilIsEmpty(t *testing.T) {
	r := Router(nil, nil, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/debug/server", nil)
	r.ServeHTTP(w, req)

	var got struct {
		Connections int `json:"connections"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Connections != 0 {
		t.Errorf("Connections = %d, want 0", got.Connections)
	}
}

func TestRouterDisconnectsReportsHistory(t *testing.T) {
	history, err := diagnostics.NewDisconnectHistory(4)
	if err != nil {
		t.Fatal(err)
	}
	history.Record(model.ClientIdentity{PID: 42, UID: 1000}, model.StopReasonClosedByPeer, nil)

	r := Router(nil, nil, history)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/debug/disconnects", nil)
	r.ServeHTTP(w, req)

	var got []struct {
		PID    int32  `json:"pid"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].PID != 42 {
		t.Errorf("PID = %d, want 42", got[0].PID)
	}
	if got[0].Reason != "ClosedByPeer" {
		t.Errorf("Reason = %q, want ClosedByPeer", got[0].Reason)
	}
}
