package integrity

import (
	"fmt"
	"time"
)

// Stats is a point-in-time view of the counters.
type Stats struct {
	Level              Level     `json:"level"`
	StartedAt          time.Time `json:"started_at"`
	UptimeSeconds      float64   `json:"uptime_seconds"`
	TotalChecks        int64     `json:"total_checks"`
	TransitionsBlocked int64     `json:"transitions_blocked"`
	WarningsIssued     int64     `json:"warnings_issued"`
	ChecksSkipped      int64     `json:"checks_skipped"`
	BlockRate          float64   `json:"block_rate"`
	WarnRate           float64   `json:"warn_rate"`
	ChecksPerSecond    float64   `json:"checks_per_second"`
}

// Stats returns the current counters and derived rates.
func (c *Config) Stats() Stats {
	s := Stats{
		Level:              c.Level(),
		StartedAt:          c.startedAt,
		TotalChecks:        c.totalChecks.Load(),
		TransitionsBlocked: c.transitionsBlocked.Load(),
		WarningsIssued:     c.warningsIssued.Load(),
		ChecksSkipped:      c.checksSkipped.Load(),
	}
	uptime := c.clock.Now().Sub(c.startedAt)
	s.UptimeSeconds = uptime.Seconds()
	if s.TotalChecks > 0 {
		s.BlockRate = float64(s.TransitionsBlocked) / float64(s.TotalChecks)
		s.WarnRate = float64(s.WarningsIssued) / float64(s.TotalChecks)
	}
	if s.UptimeSeconds > 0 {
		s.ChecksPerSecond = float64(s.TotalChecks) / s.UptimeSeconds
	}
	return s
}

// Health statuses.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthDisabled = "disabled"
)

// highBlockRate is the share of blocked checks that flags the engine as
// degraded once minChecksForRate checks have run.
const (
	highBlockRate    = 0.05
	minChecksForRate = 20
)

// Health summarizes whether enforcement is doing its job.
type Health struct {
	Status string   `json:"status"`
	Issues []string `json:"issues,omitempty"`
	Stats  Stats    `json:"stats"`
}

// Healthy reports whether no issue was found.
func (h Health) Healthy() bool { return h.Status == HealthHealthy }

// Health computes the health summary.
func (c *Config) Health() Health {
	st := c.Stats()
	h := Health{Status: HealthHealthy, Stats: st}
	switch st.Level {
	case LevelOff:
		h.Status = HealthDisabled
		h.Issues = append(h.Issues, "integrity enforcement is disabled")
	case LevelWarn:
		h.Status = HealthDegraded
		h.Issues = append(h.Issues, "violations are logged but not blocked")
	}
	if st.TotalChecks >= minChecksForRate && st.BlockRate > highBlockRate {
		if h.Status == HealthHealthy {
			h.Status = HealthDegraded
		}
		h.Issues = append(h.Issues, fmt.Sprintf("block rate %.1f%% exceeds %.0f%%", st.BlockRate*100, highBlockRate*100))
	}
	return h
}
