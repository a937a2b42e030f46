package middleware

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/config"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/obslog"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/purgatory"
)

// Phase is the orchestrator lifecycle position.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhaseRunning    Phase = "RUNNING"
	PhaseDegraded   Phase = "DEGRADED"
	PhaseError      Phase = "ERROR"
	PhaseRecovering Phase = "RECOVERING"
	PhaseStopped    Phase = "STOPPED"
)

const (
	auditListenerPriority = 30
	probeTimeout          = 5 * time.Second
)

// Orchestrator owns startup order, health supervision, audit capture and
// shutdown for the verification service. Request-path work never runs here;
// periodic work goes through the shared pool.
type Orchestrator struct {
	cfg  *config.AppConfig
	mgr  *purgatory.Manager
	repo *purgatory.Repository
	pool *Pool

	ring  *AuditRing
	board *healthBoard

	pmu    sync.Mutex
	probes []Probe

	phaseMu   sync.RWMutex
	phase     Phase
	startedAt time.Time

	recovering bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewOrchestrator(cfg *config.AppConfig, mgr *purgatory.Manager, repo *purgatory.Repository, pool *Pool) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		mgr:    mgr,
		repo:   repo,
		pool:   pool,
		ring:   NewAuditRing(512),
		board:  newHealthBoard(),
		phase:  PhaseInit,
		stopCh: make(chan struct{}),
	}
}

// RegisterProbe adds a health check. Register all probes before Start.
func (o *Orchestrator) RegisterProbe(p Probe) {
	if p.Name == "" || p.Check == nil {
		return
	}
	o.pmu.Lock()
	o.probes = append(o.probes, p)
	o.pmu.Unlock()
}

// Start subscribes the audit listener, resolves leftover sessions from a
// previous run, starts the timer queue and begins supervision loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mgr.OnEvent(auditListenerPriority, o.onFlowEvent)
	o.mgr.Start()

	if o.cfg.ResumeOnRestart {
		n, err := o.mgr.Resume(ctx)
		if err != nil {
			return err
		}
		obslog.L().Info("sessions_resumed", zap.Int("count", n))
	} else {
		// 재시작 시 이어가지 않는다: 남은 세션은 취소하고 재인증을 요구
		cancelled, err := o.mgr.CancelAll(ctx, "restart")
		if err != nil {
			return err
		}
		if len(cancelled) > 0 {
			obslog.L().Info("stale_sessions_cancelled", zap.Int("count", len(cancelled)))
		}
	}

	o.setPhase(PhaseRunning)
	o.phaseMu.Lock()
	o.startedAt = time.Now()
	o.phaseMu.Unlock()

	o.wg.Add(2)
	go o.healthLoop()
	go o.gaugeLoop()

	obslog.L().Info("orchestrator_started",
		zap.Duration("health_interval", o.cfg.HealthInterval),
		zap.Bool("resume_on_restart", o.cfg.ResumeOnRestart),
	)
	return nil
}

// Shutdown cancels outstanding sessions, stops supervision and bounds the
// whole teardown by timeout.
func (o *Orchestrator) Shutdown(timeout time.Duration) {
	o.stopOnce.Do(func() {
		close(o.stopCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		cancelled, err := o.mgr.CancelAll(ctx, "shutdown")
		if err != nil {
			obslog.L().Warn("shutdown_cancel_all_failed", zap.Error(err))
		} else if len(cancelled) > 0 {
			obslog.L().Info("shutdown_sessions_cancelled", zap.Int("count", len(cancelled)))
		}

		o.mgr.Stop()

		done := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			obslog.L().Warn("shutdown_timed_out")
		}

		o.pool.Stop()
		o.setPhase(PhaseStopped)
		obslog.L().Info("orchestrator_stopped")
	})
}

// Snapshot is an eventually-consistent view of the running service.
type Snapshot struct {
	Phase          Phase                      `json:"phase"`
	StartedAt      time.Time                  `json:"started_at"`
	Uptime         time.Duration              `json:"uptime"`
	ActiveSessions int64                      `json:"active_sessions"`
	Components     map[string]ComponentHealth `json:"components"`
	RecentAudit    []AuditEntry               `json:"recent_audit"`
}

func (o *Orchestrator) Status(ctx context.Context) Snapshot {
	o.phaseMu.RLock()
	phase := o.phase
	startedAt := o.startedAt
	o.phaseMu.RUnlock()

	active, _ := o.mgr.ActiveCount(ctx)
	uptime := time.Duration(0)
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}
	return Snapshot{
		Phase:          phase,
		StartedAt:      startedAt,
		Uptime:         uptime,
		ActiveSessions: active,
		Components:     o.board.snapshot(),
		RecentAudit:    o.ring.Recent(20),
	}
}

func (o *Orchestrator) Phase() Phase {
	o.phaseMu.RLock()
	defer o.phaseMu.RUnlock()
	return o.phase
}

// Audit returns the newest n audit entries.
func (o *Orchestrator) Audit(n int) []AuditEntry {
	return o.ring.Recent(n)
}

func (o *Orchestrator) setPhase(p Phase) {
	o.phaseMu.Lock()
	prev := o.phase
	o.phase = p
	o.phaseMu.Unlock()
	if prev != p {
		obslog.L().Info("orchestrator_phase", zap.String("from", string(prev)), zap.String("to", string(p)))
	}
}

// onFlowEvent captures every committed transition: metrics, ring buffer and
// (when attached) durable audit rows. Runs on the emitter's goroutine, so the
// slow parts are pushed onto the pool.
func (o *Orchestrator) onFlowEvent(ev purgatory.Event) {
	if ev.Session == nil {
		return
	}
	recordEvent(string(ev.Kind))
	if ev.From != ev.To && ev.Kind != purgatory.EventWarned {
		recordTransition(string(ev.From), string(ev.To))
	}
	if ev.Session.State.Closed() {
		recordSessionClosed(string(ev.Session.State), ev.At.Sub(ev.Session.CreatedAt))
	}

	entry := o.ring.Append(AuditEntry{
		Kind:      string(ev.Kind),
		SessionID: ev.Session.ID,
		ChatID:    ev.Session.ChatID,
		Name:      ev.Session.Name,
		From:      string(ev.From),
		To:        string(ev.To),
		At:        ev.At,
	})

	if o.repo == nil {
		return
	}
	o.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if err := o.repo.SaveAudit(ctx, entry.ID, entry.Kind, entry.SessionID, entry.ChatID, entry.Name, entry.At); err != nil {
			obslog.L().Warn("audit_persist_failed", zap.String("event_id", entry.ID), zap.Error(err))
		}
	})
}

func (o *Orchestrator) healthLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.runProbes()
		}
	}
}

func (o *Orchestrator) runProbes() {
	o.pmu.Lock()
	probes := make([]Probe, len(o.probes))
	copy(probes, o.probes)
	o.pmu.Unlock()

	requiredOverBudget := false
	anyUnhealthy := false
	var failing []Probe

	for _, p := range probes {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		err := p.Check(ctx)
		cancel()
		cur := o.board.record(p, err)
		if err != nil {
			anyUnhealthy = true
			obslog.L().Warn("health_probe_failed",
				zap.String("component", p.Name),
				zap.Int("consecutive", cur.Consecutive),
				zap.Error(err),
			)
			if p.Required {
				failing = append(failing, p)
				if cur.Consecutive >= failureBudget {
					requiredOverBudget = true
				}
			}
		}
	}

	switch {
	case requiredOverBudget:
		if o.Phase() != PhaseError && o.Phase() != PhaseRecovering {
			o.setPhase(PhaseError)
			o.pool.Submit(func() { o.recover(failing) })
		}
	case anyUnhealthy:
		if o.Phase() == PhaseRunning {
			o.setPhase(PhaseDegraded)
		}
	default:
		if o.Phase() == PhaseDegraded {
			o.setPhase(PhaseRunning)
		}
	}
}

// recover runs the failing probes' recovery hooks a bounded number of times.
// Exhausting the attempts leaves the orchestrator in ERROR for operators.
func (o *Orchestrator) recover(failing []Probe) {
	o.phaseMu.Lock()
	if o.recovering {
		o.phaseMu.Unlock()
		return
	}
	o.recovering = true
	o.phaseMu.Unlock()
	defer func() {
		o.phaseMu.Lock()
		o.recovering = false
		o.phaseMu.Unlock()
	}()

	o.setPhase(PhaseRecovering)
	for attempt := 1; attempt <= o.cfg.MaxRecoveryAttempts; attempt++ {
		select {
		case <-o.stopCh:
			return
		case <-time.After(time.Duration(attempt) * time.Second):
		}
		RecoveryAttempts.Inc()
		obslog.L().Info("recovery_attempt", zap.Int("attempt", attempt), zap.Int("max", o.cfg.MaxRecoveryAttempts))

		ok := true
		for _, p := range failing {
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			if p.Recover != nil {
				if err := p.Recover(ctx); err != nil {
					obslog.L().Warn("recovery_hook_failed", zap.String("component", p.Name), zap.Error(err))
					ok = false
					cancel()
					continue
				}
			}
			if err := p.Check(ctx); err != nil {
				ok = false
			} else {
				o.board.reset(p.Name)
			}
			cancel()
		}
		if ok {
			o.setPhase(PhaseRunning)
			obslog.L().Info("recovery_succeeded", zap.Int("attempt", attempt))
			return
		}
	}
	o.setPhase(PhaseError)
	obslog.L().Error("recovery_exhausted", zap.Int("attempts", o.cfg.MaxRecoveryAttempts))
}

func (o *Orchestrator) gaugeLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			if n, err := o.mgr.ActiveCount(ctx); err == nil {
				ActiveSessions.Set(float64(n))
			}
			cancel()
		}
	}
}
