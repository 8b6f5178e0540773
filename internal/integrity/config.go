package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/flowguard/internal/clock"
)

// Level is the enforcement strictness.
type Level string

const (
	LevelStrict Level = "strict"
	LevelWarn   Level = "warn"
	LevelOff    Level = "off"
)

// Levels lists the valid levels in decreasing strictness.
var Levels = []Level{LevelStrict, LevelWarn, LevelOff}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("invalid enforcement level %q: must be one of %v", s, Levels)
}

// ErrConfigLocked is returned when an unauthorized caller tries to change
// the enforcement level.
var ErrConfigLocked = errors.New("integrity configuration is locked")

// AuthContext describes who is changing the configuration.
type AuthContext struct {
	Actor       string
	IsAdmin     bool
	IsEmergency bool
	IsStartup   bool
	Reason      string
}

func (a AuthContext) authorized() bool {
	return a.IsAdmin || a.IsEmergency || a.IsStartup
}

// Fatal marks violations that no enforcement level may downgrade.
type Fatal interface {
	error
	IntegrityFatal()
}

// IsFatal reports whether err (or anything it wraps) is a Fatal violation.
func IsFatal(err error) bool {
	var f Fatal
	return errors.As(err, &f)
}

// Blocking is implemented by violations that warn mode still blocks.
// Only off skips them.
type Blocking interface {
	error
	BlocksUnderWarn() bool
}

func blocksUnderWarn(err error) bool {
	var b Blocking
	return errors.As(err, &b) && b.BlocksUnderWarn()
}

// Config is the process-wide kill switch. Use New; the zero value is not
// usable.
type Config struct {
	level atomic.Value // Level

	totalChecks        atomic.Int64
	transitionsBlocked atomic.Int64
	warningsIssued     atomic.Int64
	checksSkipped      atomic.Int64

	startedAt time.Time
	clock     clock.Clock
	metrics   *metrics
}

// Option configures a Config.
type Option func(*Config)

// WithClock sets the clock used for uptime and rates.
func WithClock(c clock.Clock) Option {
	return func(cfg *Config) { cfg.clock = c }
}

// WithRegisterer registers the integrity collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *Config) { cfg.metrics = newMetrics(reg) }
}

// New creates a Config at the given level. Construction counts as startup
// authorization.
func New(level Level, opts ...Option) (*Config, error) {
	if _, err := ParseLevel(string(level)); err != nil {
		return nil, err
	}
	c := &Config{clock: clock.System{}}
	for _, opt := range opts {
		opt(c)
	}
	c.startedAt = c.clock.Now()
	c.level.Store(level)
	c.metrics.setLevel(level)
	slog.Info("integrity enforcement initialized", "level", level)
	return c, nil
}

// Level returns the current enforcement level.
func (c *Config) Level() Level {
	return c.level.Load().(Level)
}

// Check runs fn under the current level. Under off fn is not called.
// name identifies the check in logs.
func (c *Config) Check(ctx context.Context, name string, fn func() error) error {
	c.totalChecks.Add(1)
	lvl := c.Level()
	if lvl == LevelOff {
		c.checksSkipped.Add(1)
		c.metrics.observe("skipped")
		return nil
	}
	err := fn()
	if err == nil {
		c.metrics.observe("passed")
		return nil
	}
	return c.handle(ctx, lvl, name, err)
}

// HandleViolation applies the current level to a violation the caller has
// already computed. It returns err when the operation must abort.
func (c *Config) HandleViolation(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	return c.handle(ctx, c.Level(), name, err)
}

func (c *Config) handle(ctx context.Context, lvl Level, name string, err error) error {
	if IsFatal(err) {
		c.transitionsBlocked.Add(1)
		c.metrics.observe("blocked")
		slog.ErrorContext(ctx, "fatal integrity violation", "check", name, "error", err)
		return err
	}
	switch lvl {
	case LevelWarn:
		if blocksUnderWarn(err) {
			c.transitionsBlocked.Add(1)
			c.metrics.observe("blocked")
			slog.WarnContext(ctx, "integrity violation blocked (warn mode)", "check", name, "error", err)
			return err
		}
		c.warningsIssued.Add(1)
		c.metrics.observe("warned")
		slog.WarnContext(ctx, "integrity violation allowed (warn mode)", "check", name, "error", err)
		return nil
	case LevelOff:
		c.checksSkipped.Add(1)
		c.metrics.observe("skipped")
		return nil
	default:
		c.transitionsBlocked.Add(1)
		c.metrics.observe("blocked")
		slog.WarnContext(ctx, "integrity violation blocked", "check", name, "error", err)
		return err
	}
}

// SetLevel changes the enforcement level. The caller must carry admin,
// emergency or startup authorization.
func (c *Config) SetLevel(ctx context.Context, level Level, auth AuthContext) error {
	if _, err := ParseLevel(string(level)); err != nil {
		return err
	}
	if !auth.authorized() {
		slog.WarnContext(ctx, "rejected enforcement change", "actor", auth.Actor, "requested", level)
		return fmt.Errorf("%w: %q is not admin, emergency or startup", ErrConfigLocked, auth.Actor)
	}
	prev := c.Level()
	c.level.Store(level)
	c.metrics.setLevel(level)
	slog.WarnContext(ctx, "enforcement level changed",
		"from", prev,
		"to", level,
		"actor", auth.Actor,
		"reason", auth.Reason,
		"emergency", auth.IsEmergency,
	)
	return nil
}

// EmergencyDisable turns enforcement off without the admin flow.
func (c *Config) EmergencyDisable(ctx context.Context, actor, reason string) error {
	slog.ErrorContext(ctx, "EMERGENCY: integrity enforcement disabled", "actor", actor, "reason", reason)
	return c.SetLevel(ctx, LevelOff, AuthContext{Actor: actor, IsEmergency: true, Reason: reason})
}

// EmergencyEnable restores strict enforcement without the admin flow.
func (c *Config) EmergencyEnable(ctx context.Context, actor, reason string) error {
	slog.ErrorContext(ctx, "EMERGENCY: integrity enforcement restored to strict", "actor", actor, "reason", reason)
	return c.SetLevel(ctx, LevelStrict, AuthContext{Actor: actor, IsEmergency: true, Reason: reason})
}
