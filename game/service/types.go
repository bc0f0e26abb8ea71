package service

import (
	"time"
)

// Options configures a Service
type Options struct {
	// SweepInterval is the period of the presence sweep
	SweepInterval time.Duration
	// SaveEvery is the number of sweeps between periodic saves
	SaveEvery int
	// Publisher, if set, receives every snapshot broadcast
	Publisher SnapshotPublisher
	Metrics   *Metrics
}

// Stats is the admin view of the server
type Stats struct {
	Players        int              `json:"players"`
	Online         int              `json:"online"`
	Identities     int              `json:"identities"`
	LastGeneration uint64           `json:"last_saved_generation"`
	StartedAt      time.Time        `json:"started_at"`
	Uptime         string           `json:"uptime"`
	Counters       map[string]int64 `json:"counters"`
}

// SweepSummary reports what one presence sweep did
type SweepSummary struct {
	Offline []string `json:"offline"`
	Evicted []string `json:"evicted"`
}
