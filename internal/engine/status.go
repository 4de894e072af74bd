package engine

import (
	"time"

	"github.com/danmuck/dbgwire/internal/events"
	"github.com/danmuck/dbgwire/internal/mirror"
	"github.com/danmuck/dbgwire/internal/protocol/wire"
	"github.com/danmuck/dbgwire/internal/suspend"
)

// Status is a point-in-time snapshot for the admin endpoint and the CLI.
type Status struct {
	Session    string           `json:"session"`
	Remote     string           `json:"remote"`
	Started    time.Time        `json:"started"`
	Connected  bool             `json:"connected"`
	TargetDead bool             `json:"target_dead"`
	IDSizes    wire.IDSizes     `json:"id_sizes"`
	Pending    int              `json:"pending_requests"`
	Suspend    suspend.Snapshot `json:"suspend"`
	Events     events.Stats     `json:"events"`
	Mirrors    mirror.Stats     `json:"mirrors"`
}

func (e *Engine) Status() Status {
	st := Status{
		Session: e.id,
		Remote:  e.remote,
		Started: e.started,
		IDSizes: e.IDSizes(),
		Pending: e.disp.Pending(),
		Suspend: e.tracker.Snapshot(),
		Events:  e.hub.Stats(),
	}
	select {
	case <-e.disp.Done():
	default:
		st.Connected = true
	}
	select {
	case <-e.dead:
		st.TargetDead = true
	default:
	}
	if cache := e.cache.Load(); cache != nil {
		st.Mirrors = cache.Stats()
	}
	return st
}
