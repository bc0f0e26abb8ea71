package service

import (
	"sync/atomic"
)

// Metrics counts server activity. Fields are updated atomically by the
// intake loop, the workers and the sweeper.
type Metrics struct {
	DatagramsReceived atomic.Int64
	Malformed         atomic.Int64
	UnknownType       atomic.Int64
	RateLimited       atomic.Int64
	QueueFull         atomic.Int64

	Registrations   atomic.Int64
	Resumes         atomic.Int64
	NameHeldResumes atomic.Int64
	Conflicts       atomic.Int64
	Rejections      atomic.Int64
	Updates         atomic.Int64
	Corrections     atomic.Int64
	Heartbeats      atomic.Int64
	Ignored         atomic.Int64

	Broadcasts         atomic.Int64
	SendFailures       atomic.Int64
	OfflineTransitions atomic.Int64
	Evictions          atomic.Int64
	Saves              atomic.Int64
	SaveFailures       atomic.Int64
}

// Snapshot returns a read-only copy for the admin API
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"datagrams_received":  m.DatagramsReceived.Load(),
		"malformed":           m.Malformed.Load(),
		"unknown_type":        m.UnknownType.Load(),
		"rate_limited":        m.RateLimited.Load(),
		"queue_full":          m.QueueFull.Load(),
		"registrations":       m.Registrations.Load(),
		"resumes":             m.Resumes.Load(),
		"name_held_resumes":   m.NameHeldResumes.Load(),
		"conflicts":           m.Conflicts.Load(),
		"rejections":          m.Rejections.Load(),
		"updates":             m.Updates.Load(),
		"corrections":         m.Corrections.Load(),
		"heartbeats":          m.Heartbeats.Load(),
		"ignored":             m.Ignored.Load(),
		"broadcasts":          m.Broadcasts.Load(),
		"send_failures":       m.SendFailures.Load(),
		"offline_transitions": m.OfflineTransitions.Load(),
		"evictions":           m.Evictions.Load(),
		"saves":               m.Saves.Load(),
		"save_failures":       m.SaveFailures.Load(),
	}
}
