package verifyflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/authority"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/codecard"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/obslog"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/purgatory"
	"github.com/park285/Cheese-Gatekeeper-bot/pkg/verifydto"
)

const (
	cardTitle  = "Account Verification"
	cardFooter = "Enter /verify <code> in the hub lobby"

	// listener priorities: user-facing replies before operator notices
	userListenerPriority = 10
	opsListenerPriority  = 20
)

// Controller drives the chat side of the verification flow: command parsing,
// validator and purgatory calls, and event-driven notifications. All session
// state lives in purgatory; the controller keeps presentation metadata only.
type Controller struct {
	validator *authority.Validator
	mgr       *purgatory.Manager
	presenter *Presenter
	fmtr      *Formatter
	cards     codecard.Renderer

	operatorRoom string

	mu         sync.Mutex
	lastRender map[string]string // chatID → last status text sent
}

func NewController(validator *authority.Validator, mgr *purgatory.Manager, presenter *Presenter, fmtr *Formatter, cards codecard.Renderer, operatorRoom string) *Controller {
	return &Controller{
		validator:    validator,
		mgr:          mgr,
		presenter:    presenter,
		fmtr:         fmtr,
		cards:        cards,
		operatorRoom: strings.TrimSpace(operatorRoom),
		lastRender:   make(map[string]string),
	}
}

// Subscribe registers the controller's listeners on the purgatory manager.
// Call once before Manager.Start.
func (c *Controller) Subscribe() {
	c.mgr.OnEvent(userListenerPriority, c.onUserEvent)
	c.mgr.OnEvent(opsListenerPriority, c.onOperatorEvent)
}

// Handle dispatches the verification chat command. args is the command line
// after the bot prefix and the command word itself.
func (c *Controller) Handle(ctx context.Context, room, chatID string, args []string) {
	if strings.TrimSpace(chatID) == "" {
		_ = c.presenter.Text(room, c.fmtr.Usage())
		return
	}
	if len(args) == 0 {
		_ = c.presenter.Text(room, c.fmtr.Help())
		return
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "현황", "status":
		c.status(ctx, room, chatID)
	case "취소", "cancel":
		c.cancel(ctx, room, chatID)
	case "도움", "help":
		_ = c.presenter.Text(room, c.fmtr.Help())
	default:
		c.start(ctx, room, chatID, args[0])
	}
}

func (c *Controller) start(ctx context.Context, room, chatID, username string) {
	if sess, err := c.mgr.Get(ctx, chatID); err == nil && sess != nil && !sess.State.Closed() {
		_ = c.presenter.Text(room, c.fmtr.AlreadyActive())
		return
	}

	val := c.validator.Validate(ctx, username)
	switch val.Result {
	case authority.ResultSuccess:
	case authority.ResultInvalidFormat:
		_ = c.presenter.Text(room, c.fmtr.ValidationFailure("invalid_format"))
		return
	case authority.ResultNotFound:
		_ = c.presenter.Text(room, c.fmtr.ValidationFailure("not_found"))
		return
	case authority.ResultRateLimited:
		_ = c.presenter.Text(room, c.fmtr.ValidationFailure("rate_limited"))
		return
	default:
		_ = c.presenter.Text(room, c.fmtr.ValidationFailure("system_error"))
		return
	}

	sess, err := c.mgr.Open(ctx, chatID, val, map[string]string{"room": room})
	switch {
	case errors.Is(err, purgatory.ErrSessionActive):
		_ = c.presenter.Text(room, c.fmtr.AlreadyActive())
		return
	case errors.Is(err, purgatory.ErrTooManyActive):
		_ = c.presenter.Text(room, c.fmtr.ValidationFailure("too_many"))
		return
	case err != nil:
		obslog.L().Error("verify_open_failed", zap.String("chat_id", chatID), zap.Error(err))
		_ = c.presenter.Text(room, c.fmtr.ValidationFailure("system_error"))
		return
	}

	view := c.toView(ctx, sess, true)
	text := c.fmtr.Opened(view)
	c.remember(chatID, text)
	if err := c.presenter.Card(room, text, view); err != nil {
		obslog.L().Warn("verify_send_failed", zap.String("room", room), zap.Error(err))
	}
}

func (c *Controller) status(ctx context.Context, room, chatID string) {
	sess, err := c.mgr.Get(ctx, chatID)
	if err != nil || sess == nil || sess.State.Closed() {
		_ = c.presenter.Text(room, c.fmtr.NoneActive())
		return
	}
	view := c.toView(ctx, sess, true)
	text := c.fmtr.Status(view)
	c.remember(chatID, text)
	_ = c.presenter.Card(room, text, view)
}

func (c *Controller) cancel(ctx context.Context, room, chatID string) {
	_, err := c.mgr.Cancel(ctx, chatID, "user")
	if err != nil {
		// cancelled 안내는 이벤트 리스너가 보낸다
		_ = c.presenter.Text(room, c.fmtr.NoneActive())
	}
}

// onUserEvent sends flow notifications into the room the session was opened
// from. Opened is excluded: the command handler replies directly with the card.
func (c *Controller) onUserEvent(ev purgatory.Event) {
	if ev.Session == nil {
		return
	}
	room := ev.Session.Meta["room"]
	if room == "" {
		return
	}
	view := viewOf(ev.Session, time.Now())

	var text string
	switch ev.Kind {
	case purgatory.EventWarned:
		text = c.fmtr.Warn(view, ev.Threshold)
	case purgatory.EventVerified:
		text = c.fmtr.Verified(view)
	case purgatory.EventMember:
		text = c.fmtr.Member(view)
	case purgatory.EventExpired:
		text = c.fmtr.Expired()
	case purgatory.EventCancelled:
		text = c.fmtr.Cancelled()
	default:
		return
	}
	c.remember(ev.Session.ChatID, text)
	_ = c.presenter.Text(room, text)
}

func (c *Controller) onOperatorEvent(ev purgatory.Event) {
	if c.operatorRoom == "" || ev.Session == nil || ev.Kind == purgatory.EventWarned {
		return
	}
	text := c.fmtr.Operator(ev.Kind, viewOf(ev.Session, time.Now()))
	if text == "" {
		return
	}
	_ = c.presenter.Text(c.operatorRoom, text)
}

// LastRender returns the most recent status text sent for a chat identity.
func (c *Controller) LastRender(chatID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lastRender[chatID]
	return s, ok
}

func (c *Controller) remember(chatID, text string) {
	c.mu.Lock()
	c.lastRender[chatID] = text
	c.mu.Unlock()
}

func (c *Controller) toView(ctx context.Context, sess *purgatory.Session, withCard bool) *verifydto.SessionView {
	view := viewOf(sess, time.Now())
	if view == nil || !withCard || c.cards == nil || sess.Code == "" {
		return view
	}
	img, err := c.cards.RenderPNG(ctx, codecard.Card{
		Title:  cardTitle,
		Name:   sess.Name,
		Code:   sess.Code,
		Footer: cardFooter,
	})
	if err != nil {
		obslog.L().Warn("code_card_render_failed", zap.String("session_id", sess.ID), zap.Error(err))
		return view
	}
	view.CardImage = img
	return view
}

func viewOf(sess *purgatory.Session, now time.Time) *verifydto.SessionView {
	if sess == nil {
		return nil
	}
	return &verifydto.SessionView{
		SessionID:   sess.ID,
		ChatID:      sess.ChatID,
		ClaimedName: sess.ClaimedName,
		Name:        sess.Name,
		Bridged:     sess.Bridged,
		Code:        sess.Code,
		State:       string(sess.State),
		Attempts:    sess.Attempts,
		Remaining:   sess.Remaining(now),
		CreatedAt:   sess.CreatedAt,
		ExpiresAt:   sess.ExpiresAt,
	}
}
