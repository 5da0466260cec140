// Package sync drives the reconciliation procedures between the local
// record store and the remote service.
package sync

import (
	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
)

// EventKind is the user-visible status of a sync pass.
type EventKind string

const (
	// EventProgress reports a pass in flight, with fractional progress
	// for paginated pulls.
	EventProgress EventKind = "on-progress"
	// EventReSync reports a pass that left failed records behind and
	// will be retried on the next cycle.
	EventReSync EventKind = "re-sync"
	// EventSuccess reports a completed pass.
	EventSuccess EventKind = "success"
	// EventFailed reports an aborted pass.
	EventFailed EventKind = "failed"
)

// Event is one status update emitted by a sync procedure. The engine
// never touches UI state directly; a presentation layer subscribes to
// these instead.
type Event struct {
	Kind     EventKind      `json:"kind"`
	JobType  models.JobType `json:"job_type,omitempty"`
	Progress float64        `json:"progress,omitempty"` // page / totalPages for pulls
	Synced   int            `json:"synced,omitempty"`
	Failed   int            `json:"failed,omitempty"`
	Err      string         `json:"error,omitempty"`
	Refresh  bool           `json:"refresh,omitempty"` // the record list should be re-read
}

// Notifier receives status events.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(e Event) { f(e) }

// LogNotifier writes every event to the structured log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(e Event) {
	ctx := map[string]interface{}{"kind": string(e.Kind)}
	if e.JobType != "" {
		ctx["job_type"] = string(e.JobType)
	}
	if e.Failed > 0 {
		ctx["failed"] = e.Failed
	}
	if e.Err != "" {
		ctx["error"] = e.Err
	}
	logging.Info("Sync status", ctx)
}

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

// Notify implements Notifier.
func (n Notifiers) Notify(e Event) {
	for _, sub := range n {
		sub.Notify(e)
	}
}
