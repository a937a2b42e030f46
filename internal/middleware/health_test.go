package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthBoardTracksConsecutiveFailures(t *testing.T) {
	board := newHealthBoard()
	probe := Probe{Name: "redis", Required: true, Check: func(ctx context.Context) error { return nil }}

	failErr := errors.New("connection refused")
	cur := board.record(probe, failErr)
	assert.False(t, cur.Healthy)
	assert.Equal(t, 1, cur.Consecutive)
	assert.Equal(t, failErr.Error(), cur.LastError)

	cur = board.record(probe, failErr)
	assert.Equal(t, 2, cur.Consecutive)

	cur = board.record(probe, nil)
	assert.True(t, cur.Healthy)
	assert.Zero(t, cur.Consecutive)
	assert.Empty(t, cur.LastError)
}

func TestHealthBoardSnapshotIsCopy(t *testing.T) {
	board := newHealthBoard()
	probe := Probe{Name: "postgres", Check: func(ctx context.Context) error { return nil }}
	board.record(probe, nil)

	snap := board.snapshot()
	snap["postgres"] = ComponentHealth{Name: "postgres", Healthy: false}

	again := board.snapshot()
	assert.True(t, again["postgres"].Healthy)
}

func TestHealthBoardReset(t *testing.T) {
	board := newHealthBoard()
	probe := Probe{Name: "bridge_ws", Check: func(ctx context.Context) error { return nil }}
	board.record(probe, errors.New("down"))
	board.record(probe, errors.New("down"))

	board.reset("bridge_ws")
	assert.Zero(t, board.snapshot()["bridge_ws"].Consecutive)
}
