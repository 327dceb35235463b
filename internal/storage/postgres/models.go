package postgres

import "time"

// ChannelState is the latest journaled outcome for one channel.
type ChannelState struct {
	Channel         string     `db:"channel"`
	Identifier      string     `db:"identifier"`
	LastInstalledAt *time.Time `db:"last_installed_at"`
	LastAttemptAt   time.Time  `db:"last_attempt_at"`
	LastError       string     `db:"last_error"`
	TotalInstalls   int        `db:"total_installs"`
}

// PassRecord is one journaled sync pass.
type PassRecord struct {
	ID         int64     `db:"id"`
	StartedAt  time.Time `db:"started_at"`
	DurationMs int64     `db:"duration_ms"`
	Stale      int       `db:"stale"`
	Installed  int       `db:"installed"`
	Failed     int       `db:"failed"`
	Changed    bool      `db:"changed"`
	Committed  bool      `db:"committed"`
	Reason     string    `db:"reason"`
}

// InstallRecord is one channel attempt within a pass.
type InstallRecord struct {
	ID         int64     `db:"id"`
	PassID     int64     `db:"pass_id"`
	Channel    string    `db:"channel"`
	Identifier string    `db:"identifier"`
	Success    bool      `db:"success"`
	Error      string    `db:"error"`
	DurationMs int64     `db:"duration_ms"`
	FinishedAt time.Time `db:"finished_at"`
}
