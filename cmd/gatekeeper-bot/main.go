package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/authority"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/chatfast"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/codecard"
	appcfg "github.com/park285/Cheese-Gatekeeper-bot/internal/config"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/gateapi"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/middleware"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/msgcat"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/obslog"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/purgatory"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/verifyflow"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/vcode"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.XUserID != "" {
			h["X-User-Id"] = cfg.XUserID
		}
		if cfg.XUserEmail != "" {
			h["X-User-Email"] = cfg.XUserEmail
		}
		if cfg.XSessionID != "" {
			h["X-Session-Id"] = cfg.XSessionID
		}
		return h
	}

	client := chatfast.NewClient(cfg.IrisBaseURL, chatfast.WithHeaderProvider(headers))

	ws := chatfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state chatfast.WebSocketState) {
		log.Printf("WS state: %s", state)
	})

	egress := chatfast.NewEgress("auto", false, client, ws, obslog.L())

	ropt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(ropt)

	pool := middleware.NewPool(4, 128)

	issuer := vcode.NewIssuer(rdb)

	authClient := authority.NewClient(cfg.AuthorityBaseURL)
	validator := authority.NewValidator(authClient, authority.ValidatorConfig{
		BridgePrefixes: cfg.BridgePrefixes,
		MinInterval:    cfg.AuthorityMinInterval,
		CacheTTL:       cfg.AuthorityCacheTTL,
	})

	mgr := purgatory.NewManager(rdb, issuer, purgatory.Config{
		Window:             cfg.VerifyWindow,
		WarnThresholds:     cfg.WarnThresholds,
		MemberGrace:        cfg.MemberGrace,
		MaxActive:          cfg.MaxActiveSessions,
		CheckpointInterval: cfg.CheckpointInterval,
	}, pool.Submit)

	var repo *purgatory.Repository
	if cfg.DatabaseURL != "" {
		repo, err = purgatory.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("repository init error: %v", err)
		}
		mgr.AttachRepository(repo)
	}

	cat, err := msgcat.New(os.Getenv("MSG_TEMPLATE_DIR"))
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	presenter := verifyflow.NewPresenter(
		func(room, message string) error { return egress.SendText(context.Background(), room, message) },
		func(room, imageBase64 string) error { return egress.SendImage(context.Background(), room, imageBase64) },
	)
	formatter := verifyflow.NewFormatter(prefixProvider{prefix: cfg.BotPrefix}, cat)
	controller := verifyflow.NewController(validator, mgr, presenter, formatter, codecard.NewRenderer(), cfg.OperatorRoom)
	controller.Subscribe()

	reg := prometheus.NewRegistry()
	middleware.RegisterMetrics(reg)

	orch := middleware.NewOrchestrator(cfg, mgr, repo, pool)
	orch.RegisterProbe(middleware.Probe{
		Name:     "redis",
		Required: true,
		Check:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	if repo != nil {
		orch.RegisterProbe(middleware.Probe{
			Name:     "postgres",
			Required: true,
			Check:    func(ctx context.Context) error { return repo.Ping(ctx) },
		})
	}
	// 실시간 조회 대신 마지막 호출 결과로 판정
	orch.RegisterProbe(middleware.Probe{
		Name:  "authority",
		Check: func(ctx context.Context) error { return validator.LastCallErr() },
	})
	orch.RegisterProbe(middleware.Probe{
		Name: "bridge_ws",
		Check: func(ctx context.Context) error {
			if ws.State() != chatfast.WSStateConnected {
				return chatfast.ErrNotConnected
			}
			return nil
		},
		Recover: func(ctx context.Context) error { return ws.Connect(ctx) },
	})

	sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orch.Start(sctx); err != nil {
		scancel()
		log.Fatalf("orchestrator start error: %v", err)
	}
	scancel()

	gate := gateapi.NewServer(cfg.GateListenAddr, mgr, orch, reg)
	gate.Start()

	// Command handler
	ws.OnMessage(func(msg *chatfast.Message) {
		if msg == nil || msg.Msg == "" {
			return
		}
		if len(cfg.AllowedRooms) > 0 && !roomAllowed(cfg.AllowedRooms, msg.Room) {
			return
		}
		if !strings.HasPrefix(strings.TrimSpace(msg.Msg), cfg.BotPrefix) {
			return
		}
		// Avoid blocking the WS loop
		go handleCommand(controller, formatter, presenter, cfg, msg)
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		cancel()
		log.Fatalf("ws connect error: %v", err)
	}
	cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = gate.Shutdown(shCtx)
	shCancel()
	orch.Shutdown(15 * time.Second)
	_ = ws.Close(context.Background())
	_ = rdb.Close()
	if repo != nil {
		_ = repo.Close()
	}
}

func handleCommand(controller *verifyflow.Controller, formatter *verifyflow.Formatter, presenter *verifyflow.Presenter, cfg *appcfg.AppConfig, msg *chatfast.Message) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(msg.Msg), cfg.BotPrefix))
	if raw == "" {
		_ = presenter.Text(msg.Room, formatter.Help())
		return
	}
	parts := strings.Fields(raw)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "인증", "verify":
		controller.Handle(ctx, msg.Room, userIDFromMessage(msg), args)
	case "help", "도움":
		_ = presenter.Text(msg.Room, formatter.Help())
	default:
		// 다른 봇 명령과 공존: 모르는 명령은 조용히 무시
	}
}

func userIDFromMessage(msg *chatfast.Message) string {
	if msg.JSON != nil && msg.JSON.UserID != "" {
		return msg.JSON.UserID
	}
	if msg.Sender != nil {
		return strings.TrimSpace(*msg.Sender)
	}
	return ""
}

func roomAllowed(allowed []string, room string) bool {
	for _, r := range allowed {
		if r == room {
			return true
		}
	}
	return false
}

type prefixProvider struct{ prefix string }

func (p prefixProvider) Prefix() string { return p.prefix }
