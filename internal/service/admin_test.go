package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/notify"
)

func TestSetEnforcement(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)

	stats, err := f.admin.SetEnforcement(t.Context(), domain.ActorAdmin, EnforcementChange{
		Level: integrity.LevelWarn, Operator: "ops@example.com", Reason: "investigating false positives",
	})
	require.NoError(t, err)
	assert.Equal(t, integrity.LevelWarn, stats.Level)
	assert.Equal(t, integrity.LevelWarn, f.integ.Level())

	entries := f.audit(t, enforcementEntity)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntityIntegrity, entries[0].EntityType)
	assert.Equal(t, domain.AuditEnforcementChanged, entries[0].Action)
	assert.Equal(t, "strict", entries[0].OldValue)
	assert.Equal(t, "warn", entries[0].NewValue)
	assert.Equal(t, "ops@example.com", entries[0].Metadata["operator"])
	assert.Equal(t, []string{notify.KindEnforcementChanged}, f.recorder.Kinds())
}

func TestSetEnforcement_Rejected(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)

	_, err := f.admin.SetEnforcement(t.Context(), domain.ActorSystem, EnforcementChange{Level: integrity.LevelOff, Reason: "x"})
	assert.True(t, IsAuthorityViolation(err))

	_, err = f.admin.SetEnforcement(t.Context(), domain.ActorAdmin, EnforcementChange{Level: integrity.LevelOff})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.admin.SetEnforcement(t.Context(), domain.ActorAdmin, EnforcementChange{Level: "lenient", Reason: "x"})
	assert.Error(t, err)

	assert.Equal(t, integrity.LevelStrict, f.integ.Level())
	assert.Empty(t, f.audit(t, enforcementEntity))
}

func TestEmergencyDisableAndEnable(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)

	_, err := f.admin.EmergencyDisable(t.Context(), domain.ActorAdmin, "oncall", "checks blocking all payments")
	require.NoError(t, err)
	assert.Equal(t, integrity.LevelOff, f.integ.Level())
	require.Len(t, f.recorder.Events(), 1)
	assert.Equal(t, notify.SeverityUrgent, f.recorder.Events()[0].Severity)

	_, err = f.admin.EmergencyEnable(t.Context(), domain.ActorAdmin, "oncall", "fix deployed")
	require.NoError(t, err)
	assert.Equal(t, integrity.LevelStrict, f.integ.Level())

	entries := f.audit(t, enforcementEntity)
	require.Len(t, entries, 2)
	assert.Equal(t, true, entries[0].Metadata["emergency"])
}

func TestStatus_IsAudited(t *testing.T) {
	f := newFixture(t, integrity.LevelWarn)

	h, err := f.admin.Status(t.Context(), domain.ActorAdmin, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, integrity.HealthDegraded, h.Status)

	entries := f.audit(t, enforcementEntity)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditEnforcementQueried, entries[0].Action)

	_, err = f.admin.Status(t.Context(), domain.ActorSession, "someone")
	assert.True(t, IsAuthorityViolation(err))
}
