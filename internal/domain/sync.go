package domain

import "time"

// SyncState is the phase of the sync state machine.
type SyncState int32

const (
	StateIdle SyncState = iota
	StateResolvingVersions
	StateNoUpdateNeeded
	StateInstalling
	StateCommitting
)

func (s SyncState) String() string {
	switch s {
	case StateResolvingVersions:
		return "resolving_versions"
	case StateNoUpdateNeeded:
		return "no_update_needed"
	case StateInstalling:
		return "installing"
	case StateCommitting:
		return "committing"
	default:
		return "idle"
	}
}

// ChannelResult is the outcome of one channel's fetch and install.
type ChannelResult struct {
	Channel    Channel
	Identifier string
	Installed  bool
	Err        error
	Duration   time.Duration
}

// SyncStats holds statistics about a sync pass.
type SyncStats struct {
	StartedAt time.Time
	Stale     []Channel
	Results   []ChannelResult
	Installed int
	Failed    int
	Published int
	Changed   bool
	Committed bool
	Reason    string
	Duration  time.Duration
}
