package gateapi

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/middleware"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/obslog"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/purgatory"
	"github.com/park285/Cheese-Gatekeeper-bot/pkg/verifydto"
)

const (
	hubLobby       = "hub-lobby"
	requestTimeout = 5 * time.Second
)

// restrictedCommands is what an unverified player may still run in game.
var restrictedCommands = []string{"help", "verify", "status", "cancel", "spawn"}

// Server answers the game-side gate: restriction queries, code redemption,
// health and metrics. The gate plugin enforces; we are the source of truth.
type Server struct {
	addr string
	mgr  *purgatory.Manager
	orch *middleware.Orchestrator

	srv            *fasthttp.Server
	metricsHandler fasthttp.RequestHandler
}

func NewServer(addr string, mgr *purgatory.Manager, orch *middleware.Orchestrator, reg *prometheus.Registry) *Server {
	s := &Server{
		addr: strings.TrimSpace(addr),
		mgr:  mgr,
		orch: orch,
	}
	if reg != nil {
		s.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		)
	}
	s.srv = &fasthttp.Server{
		Handler:            s.route,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 << 16,
		Name:               "gatekeeper",
	}
	return s
}

// Start begins serving in the background. Listen errors after startup are
// logged, not returned.
func (s *Server) Start() {
	go func() {
		obslog.L().Info("gate_api_listen", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(s.addr); err != nil {
			obslog.L().Error("gate_api_stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/gate/restricted":
		if !ctx.IsGet() {
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			return
		}
		s.handleRestricted(ctx)
	case "/gate/redeem":
		if !ctx.IsPost() {
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			return
		}
		s.handleRedeem(ctx)
	case "/healthz":
		s.handleHealthz(ctx)
	case "/metrics":
		if s.metricsHandler == nil {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		s.metricsHandler(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) handleRestricted(ctx *fasthttp.RequestCtx) {
	user := strings.TrimSpace(string(ctx.QueryArgs().Peek("user")))
	if user == "" {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]string{"error": "missing user"})
		return
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	decision := verifydto.GateDecision{User: user, Restricted: true}
	sess, err := s.mgr.GetByName(rctx, user)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if sess != nil {
		decision.State = string(sess.State)
		if sess.State == purgatory.StateVerified || sess.State == purgatory.StateMember {
			decision.Restricted = false
		}
	}
	if decision.Restricted {
		decision.AllowedCommands = restrictedCommands
		decision.Hub = hubLobby
		decision.Adventure = true
	}
	writeJSON(ctx, fasthttp.StatusOK, decision)
}

type redeemRequest struct {
	User string `json:"user"`
	Code string `json:"code"`
}

type redeemResponse struct {
	Outcome string `json:"outcome"`
	State   string `json:"state,omitempty"`
}

func (s *Server) handleRedeem(ctx *fasthttp.RequestCtx) {
	var req redeemRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	req.User = strings.TrimSpace(req.User)
	req.Code = strings.TrimSpace(req.Code)
	if req.User == "" || req.Code == "" {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]string{"error": "missing user or code"})
		return
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	outcome, sess, err := s.mgr.Redeem(rctx, req.Code, req.User)
	if err != nil {
		obslog.L().Warn("gate_redeem_error", zap.String("user", req.User), zap.Error(err))
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": "redeem failed"})
		return
	}
	middleware.RecordRedeemOutcome(string(outcome))

	resp := redeemResponse{Outcome: string(outcome)}
	if sess != nil {
		resp.State = string(sess.State)
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) handleHealthz(ctx *fasthttp.RequestCtx) {
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	snap := s.orch.Status(rctx)
	status := fasthttp.StatusOK
	if snap.Phase != middleware.PhaseRunning && snap.Phase != middleware.PhaseDegraded {
		status = fasthttp.StatusServiceUnavailable
	}
	writeJSON(ctx, status, map[string]any{
		"phase":           snap.Phase,
		"uptime_seconds":  int64(snap.Uptime.Seconds()),
		"active_sessions": snap.ActiveSessions,
		"components":      snap.Components,
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetBody(body)
}
