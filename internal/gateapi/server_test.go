package gateapi

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/authority"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/config"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/middleware"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/purgatory"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/vcode"
	"github.com/park285/Cheese-Gatekeeper-bot/pkg/verifydto"
)

func newTestServer(t *testing.T) (*Server, *purgatory.Manager) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mgr := purgatory.NewManager(rdb, vcode.NewIssuer(rdb), purgatory.Config{Window: time.Minute}, nil)
	mgr.Start()
	t.Cleanup(mgr.Stop)

	pool := middleware.NewPool(1, 8)
	t.Cleanup(pool.Stop)
	orch := middleware.NewOrchestrator(&config.AppConfig{
		HealthInterval:      time.Minute,
		MetricsInterval:     time.Minute,
		MaxRecoveryAttempts: 1,
	}, mgr, nil, pool)

	srv := NewServer(":0", mgr, orch, prometheus.NewRegistry())
	return srv, mgr
}

func doRequest(srv *Server, method, uri string, body []byte) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != nil {
		req.SetBody(body)
	}
	// Init wires the ctx to fasthttp's internal server so it is a usable
	// context.Context for the handlers' deadlines.
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	srv.route(ctx)
	return ctx
}

func openSession(t *testing.T, mgr *purgatory.Manager, chatID, name string) *purgatory.Session {
	t.Helper()
	sess, err := mgr.Open(context.Background(), chatID, authority.Validation{
		Result:    authority.ResultSuccess,
		Original:  name,
		Canonical: name,
		CheckedAt: time.Now(),
	}, nil)
	require.NoError(t, err)
	return sess
}

func TestRestrictedUnknownUser(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx := doRequest(srv, "GET", "/gate/restricted?user=Stranger1", nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var d verifydto.GateDecision
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &d))
	assert.True(t, d.Restricted)
	assert.Equal(t, "hub-lobby", d.Hub)
	assert.Contains(t, d.AllowedCommands, "verify")
	assert.Contains(t, d.AllowedCommands, "spawn")
	assert.True(t, d.Adventure)
}

func TestRestrictedInPurgatory(t *testing.T) {
	srv, mgr := newTestServer(t)
	openSession(t, mgr, "chat-1", "Steve123")

	ctx := doRequest(srv, "GET", "/gate/restricted?user=Steve123", nil)
	var d verifydto.GateDecision
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &d))
	assert.True(t, d.Restricted)
	assert.Equal(t, string(purgatory.StateInPurgatory), d.State)
}

func TestRestrictionLiftedAfterRedeem(t *testing.T) {
	srv, mgr := newTestServer(t)
	sess := openSession(t, mgr, "chat-1", "Steve123")

	outcome, _, err := mgr.Redeem(context.Background(), sess.Code, "Steve123")
	require.NoError(t, err)
	require.Equal(t, purgatory.RedeemAccepted, outcome)

	ctx := doRequest(srv, "GET", "/gate/restricted?user=Steve123", nil)
	var d verifydto.GateDecision
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &d))
	assert.False(t, d.Restricted)
	assert.Empty(t, d.AllowedCommands)
}

func TestRedeemEndpoint(t *testing.T) {
	srv, mgr := newTestServer(t)
	sess := openSession(t, mgr, "chat-1", "Steve123")

	body, _ := json.Marshal(redeemRequest{User: "Steve123", Code: sess.Code})
	ctx := doRequest(srv, "POST", "/gate/redeem", body)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var resp redeemResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, string(purgatory.RedeemAccepted), resp.Outcome)
	assert.Equal(t, string(purgatory.StateVerified), resp.State)

	// 재사용은 거부
	ctx = doRequest(srv, "POST", "/gate/redeem", body)
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, string(purgatory.RedeemNotFound), resp.Outcome)
}

func TestRedeemValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx := doRequest(srv, "POST", "/gate/redeem", []byte(`{"user":""}`))
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = doRequest(srv, "GET", "/gate/redeem", nil)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}

func TestRestrictedRequiresUser(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx := doRequest(srv, "GET", "/gate/restricted", nil)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestHealthzReflectsPhase(t *testing.T) {
	srv, _ := newTestServer(t)

	// 시작 전(INIT)에는 준비되지 않음
	ctx := doRequest(srv, "GET", "/healthz", nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}
