package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRingAssignsIDs(t *testing.T) {
	ring := NewAuditRing(8)

	e := ring.Append(AuditEntry{Kind: "opened", SessionID: "vs-1", ChatID: "chat-1"})
	require.NotEmpty(t, e.ID)
	assert.False(t, e.At.IsZero())
}

func TestAuditRingBounded(t *testing.T) {
	ring := NewAuditRing(4)
	for i := 0; i < 10; i++ {
		ring.Append(AuditEntry{Kind: "opened", SessionID: string(rune('a' + i))})
	}
	assert.Equal(t, 4, ring.Len())

	recent := ring.Recent(10)
	require.Len(t, recent, 4)
	// newest first
	assert.Equal(t, "j", recent[0].SessionID)
	assert.Equal(t, "g", recent[3].SessionID)
}

func TestAuditRingRecentSubset(t *testing.T) {
	ring := NewAuditRing(16)
	base := time.Now()
	for i := 0; i < 5; i++ {
		ring.Append(AuditEntry{Kind: "warned", SessionID: string(rune('0' + i)), At: base.Add(time.Duration(i) * time.Second)})
	}
	recent := ring.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "4", recent[0].SessionID)
	assert.Equal(t, "3", recent[1].SessionID)
}

func TestAuditRingEmpty(t *testing.T) {
	ring := NewAuditRing(4)
	assert.Empty(t, ring.Recent(3))
	assert.Zero(t, ring.Len())
}
