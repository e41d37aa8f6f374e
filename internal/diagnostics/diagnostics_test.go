package diagnostics

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/qorix-group/message-passing/internal/domain/model"
)

func TestDisconnectHistoryBoundedEviction(t *testing.T) {
	h, err := NewDisconnectHistory(2)
	if err != nil {
		t.Fatal(err)
	}
	h.Record(model.ClientIdentity{PID: 1}, model.StopReasonClosedByPeer, nil)
	h.Record(model.ClientIdentity{PID: 2}, model.StopReasonIoError, errors.New("boom"))
	h.Record(model.ClientIdentity{PID: 3}, model.StopReasonUserRequested, nil)

	if h.Len() != 2 {
		t.Fatalf("len = %d, want 2", h.Len())
	}
	recent := h.Recent()
	pids := []int32{recent[0].Identity.PID, recent[1].Identity.PID}
	if pids[0] == 1 || pids[1] == 1 {
		t.Errorf("oldest record (pid 1) should have been evicted, got %v", pids)
	}
}

func TestWarnIfSlowLogsPastBudget(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	done := WarnIfSlow(logger, time.Millisecond, "test-op")
	time.Sleep(5 * time.Millisecond)
	done()

	if buf.Len() == 0 {
		t.Error("expected a warning to be logged")
	}
}

func TestWarnIfSlowSilentWithinBudget(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	done := WarnIfSlow(logger, time.Second, "test-op")
	done()

	if buf.Len() != 0 {
		t.Errorf("expected no log output, got %q", buf.String())
	}
}
