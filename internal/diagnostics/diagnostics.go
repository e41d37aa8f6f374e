// Package diagnostics provides introspection support that sits alongside
// the engine without being part of the wire protocol: a bounded history of
// recent disconnects, and a helper that logs only when an operation runs
// past its expected budget.
package diagnostics

import (
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qorix-group/message-passing/internal/domain/model"
)

// DisconnectRecord is a single historical disconnect event, kept for the
// debug HTTP surface and for postmortem logging.
type DisconnectRecord struct {
	Identity  model.ClientIdentity
	Reason    model.StopReason
	Err       string
	Timestamp time.Time
}

// DisconnectHistory is a bounded, most-recent-evicted-last record of
// disconnects across every connection a process has handled. The zero
// value is not usable; construct with NewDisconnectHistory.
type DisconnectHistory struct {
	cache *lru.Cache[int, DisconnectRecord]
	next  int
}

// NewDisconnectHistory constructs a history that retains at most capacity
// records.
func NewDisconnectHistory(capacity int) (*DisconnectHistory, error) {
	cache, err := lru.New[int, DisconnectRecord](capacity)
	if err != nil {
		return nil, err
	}
	return &DisconnectHistory{cache: cache}, nil
}

// Record appends a disconnect event, evicting the oldest one if the history
// is already at capacity.
func (h *DisconnectHistory) Record(identity model.ClientIdentity, reason model.StopReason, err error) {
	rec := DisconnectRecord{Identity: identity, Reason: reason, Timestamp: time.Now()}
	if err != nil {
		rec.Err = err.Error()
	}
	h.cache.Add(h.next, rec)
	h.next++
}

// Recent returns every currently retained record, oldest first.
func (h *DisconnectHistory) Recent() []DisconnectRecord {
	keys := h.cache.Keys()
	out := make([]DisconnectRecord, 0, len(keys))
	for _, k := range keys {
		if rec, ok := h.cache.Peek(k); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Len reports how many records are currently retained.
func (h *DisconnectHistory) Len() int {
	return h.cache.Len()
}

// WarnIfSlow returns a function that, when called, logs at warn level if
// more than budget has elapsed since WarnIfSlow was called. Use as:
//
//	done := diagnostics.WarnIfSlow(logger, 10*time.Millisecond, "CleanUpOwner")
//	defer done()
func WarnIfSlow(logger *slog.Logger, budget time.Duration, operation string, attrs ...any) func() {
	started := time.Now()
	return func() {
		elapsed := time.Since(started)
		if elapsed > budget {
			args := append([]any{"operation", operation, "elapsed", elapsed, "budget", budget}, attrs...)
			logger.Warn("operation exceeded its time budget", args...)
		}
	}
}
