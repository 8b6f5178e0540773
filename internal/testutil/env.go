// Package testutil builds fully wired engines for tests outside the service
// package: a manual clock, sequential ids, a sandbox gateway and a
// notification recorder.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/app"
	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/config"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/ids"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/service"
)

// Start is the initial time of every Env clock.
var Start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Price is the price of sessions booked through an Env.
const Price = 3000

// WebhookSecret signs callbacks in tests.
const WebhookSecret = "test-webhook-secret"

// AdminKey signs admin tokens in tests.
const AdminKey = "test-admin-key"

// Env is an App plus handles on its test doubles.
type Env struct {
	*app.App
	Clock    *clock.Manual
	Recorder *notify.Recorder
	Sandbox  *gateway.Sandbox
}

// Option adjusts the configuration before the App is built.
type Option func(*config.Config)

// WithLevel sets the enforcement level.
func WithLevel(l integrity.Level) Option {
	return func(c *config.Config) { c.Enforcement = l }
}

// WithPolicy replaces the policy.
func WithPolicy(p service.Policy) Option {
	return func(c *config.Config) { c.Policy = p }
}

// WithDatabase places the database at path instead of a temporary file.
func WithDatabase(path string) Option {
	return func(c *config.Config) { c.DatabasePath = path }
}

// NewEnv builds an App over a temporary database. The App is closed when the
// test ends.
func NewEnv(t testing.TB, opts ...Option) *Env {
	t.Helper()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "flowguard.db")
	cfg.WebhookSecret = WebhookSecret
	cfg.AdminSigningKey = AdminKey
	for _, o := range opts {
		o(&cfg)
	}

	e := &Env{
		Clock:    clock.NewManual(Start),
		Recorder: &notify.Recorder{},
		Sandbox:  gateway.NewSandbox(ids.NewSequence("gw")),
	}
	a, err := app.New(cfg, app.Options{
		Clock:    e.Clock,
		IDs:      ids.NewSequence("id"),
		Notifier: e.Recorder,
		Gateway:  e.Sandbox,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	e.App = a
	return e
}

// Book creates a requested session for client-1 and therapist-1 starting at
// the given offset from Start.
func (e *Env) Book(t testing.TB, offset time.Duration) *domain.Session {
	t.Helper()
	out, err := e.Sessions.Create(t.Context(), domain.ActorSession, service.NewSession{
		ClientID:    "client-1",
		TherapistID: "therapist-1",
		SessionType: "individual",
		ScheduledAt: Start.Add(offset),
		Price:       Price,
		Currency:    "KES",
	})
	require.NoError(t, err)
	return out.Session
}

// Initiate books a session 48h out, approves it and starts payment.
func (e *Env) Initiate(t testing.TB) *domain.Session {
	t.Helper()
	s := e.Book(t, 48*time.Hour)
	_, err := e.Sessions.Approve(t.Context(), domain.ActorSession, s.ID)
	require.NoError(t, err)
	out, err := e.Payments.InitiatePayment(t.Context(), domain.ActorPayment, s.ID, "254700000001")
	require.NoError(t, err)
	return out.Session
}

// Success returns a successful callback for the session's checkout.
func Success(s *domain.Session) gateway.Callback {
	return gateway.Callback{
		CheckoutReference: s.CheckoutReference,
		ResultCode:        gateway.ResultSuccess,
		ResultDesc:        "The service request is processed successfully.",
		Amount:            s.Price,
		Phone:             "254700000001",
		Receipt:           "RCPT-" + s.ID,
	}
}

// Paid returns a session whose payment is confirmed.
func (e *Env) Paid(t testing.TB) *domain.Session {
	t.Helper()
	s := e.Initiate(t)
	out, err := e.Payments.ProcessCallback(t.Context(), domain.ActorPayment, Success(s), "fp-"+s.ID)
	require.NoError(t, err)
	return out.Session
}

// Ready returns a paid session marked ready.
func (e *Env) Ready(t testing.TB) *domain.Session {
	t.Helper()
	s := e.Paid(t)
	out, err := e.Sessions.MarkReady(t.Context(), domain.ActorSession, s.ID)
	require.NoError(t, err)
	return out.Session
}

// Get reloads a session.
func (e *Env) Get(t testing.TB, id string) *domain.Session {
	t.Helper()
	s, err := e.Store.GetSession(t.Context(), id)
	require.NoError(t, err)
	return s
}

// Signed encodes cb and signs it with WebhookSecret.
func Signed(t testing.TB, cb gateway.Callback) ([]byte, string) {
	t.Helper()
	body, err := gateway.EncodeCallback(cb)
	require.NoError(t, err)
	return body, gateway.Sign([]byte(WebhookSecret), body)
}
