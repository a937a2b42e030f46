package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/config"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/purgatory"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		HealthInterval:      50 * time.Millisecond,
		MetricsInterval:     50 * time.Millisecond,
		MaxRecoveryAttempts: 2,
	}
}

func TestFlowEventsLandInAuditRing(t *testing.T) {
	pool := NewPool(1, 8)
	defer pool.Stop()
	o := NewOrchestrator(testConfig(), nil, nil, pool)

	now := time.Now()
	sess := &purgatory.Session{
		ID:        "vs-1",
		ChatID:    "chat-1",
		Name:      "Steve123",
		State:     purgatory.StateInPurgatory,
		CreatedAt: now.Add(-time.Minute),
	}
	o.onFlowEvent(purgatory.Event{
		Kind:    purgatory.EventOpened,
		Session: sess,
		From:    purgatory.StatePending,
		To:      purgatory.StateInPurgatory,
		At:      now,
	})

	recent := o.Audit(5)
	require.Len(t, recent, 1)
	assert.Equal(t, "opened", recent[0].Kind)
	assert.Equal(t, "vs-1", recent[0].SessionID)
	assert.NotEmpty(t, recent[0].ID)
}

func TestFlowEventWithoutSessionIgnored(t *testing.T) {
	pool := NewPool(1, 8)
	defer pool.Stop()
	o := NewOrchestrator(testConfig(), nil, nil, pool)

	o.onFlowEvent(purgatory.Event{Kind: purgatory.EventExpired})
	assert.Empty(t, o.Audit(5))
}

func TestPhaseTransitionsVisible(t *testing.T) {
	pool := NewPool(1, 8)
	defer pool.Stop()
	o := NewOrchestrator(testConfig(), nil, nil, pool)

	assert.Equal(t, PhaseInit, o.Phase())
	o.setPhase(PhaseRunning)
	assert.Equal(t, PhaseRunning, o.Phase())
	o.setPhase(PhaseDegraded)
	assert.Equal(t, PhaseDegraded, o.Phase())
}
