package models

import "time"

// CheckRun is the audit record of one budget check cycle.
type CheckRun struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Evaluated   int       `json:"evaluated"`
	Skipped     int       `json:"skipped"`
	Breaches    int       `json:"breaches"`
	Recorded    int       `json:"recorded"`
	Suppressed  int       `json:"suppressed"`
	Notified    int       `json:"notified"`
	Undelivered int       `json:"undelivered"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
}

// Duration is how long the cycle took.
func (r CheckRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// CheckRunQueryOpts filters check run history.
type CheckRunQueryOpts struct {
	Since      time.Time
	FailedOnly bool
	Limit      int
}
