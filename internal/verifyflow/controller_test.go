package verifyflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/authority"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/msgcat"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/purgatory"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/vcode"
)

type sentMessage struct {
	room string
	text string
}

type outbox struct {
	mu       sync.Mutex
	messages []sentMessage
	images   []sentMessage
}

func (o *outbox) sendText(room, text string) error {
	o.mu.Lock()
	o.messages = append(o.messages, sentMessage{room: room, text: text})
	o.mu.Unlock()
	return nil
}

func (o *outbox) sendImage(room, b64 string) error {
	o.mu.Lock()
	o.images = append(o.images, sentMessage{room: room, text: b64})
	o.mu.Unlock()
	return nil
}

func (o *outbox) toRoom(room string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, m := range o.messages {
		if m.room == room {
			out = append(out, m.text)
		}
	}
	return out
}

func (o *outbox) last(room string) string {
	msgs := o.toRoom(room)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type mapLookuper struct {
	profiles map[string]*authority.Profile
}

func (m *mapLookuper) Lookup(ctx context.Context, username string) (*authority.Profile, error) {
	return m.profiles[username], nil
}

func newTestController(t *testing.T) (*Controller, *purgatory.Manager, *outbox) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mgr := purgatory.NewManager(rdb, vcode.NewIssuer(rdb), purgatory.Config{Window: time.Minute}, func(fn func()) { go fn() })
	mgr.Start()
	t.Cleanup(mgr.Stop)

	validator := authority.NewValidator(&mapLookuper{profiles: map[string]*authority.Profile{
		"Steve123": {ID: "u-1", Name: "Steve123"},
	}}, authority.ValidatorConfig{})

	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}

	box := &outbox{}
	presenter := NewPresenter(box.sendText, box.sendImage)
	formatter := NewFormatter(staticPrefix{p: "!"}, cat)

	c := NewController(validator, mgr, presenter, formatter, nil, "ops-room")
	c.Subscribe()
	return c, mgr, box
}

func TestVerifyCommandOpensSession(t *testing.T) {
	c, mgr, box := newTestController(t)
	ctx := context.Background()

	c.Handle(ctx, "room-a", "chat-1", []string{"Steve123"})

	sess, err := mgr.Get(ctx, "chat-1")
	if err != nil || sess == nil {
		t.Fatalf("session not opened: %v %v", sess, err)
	}
	if sess.State != purgatory.StateInPurgatory {
		t.Fatalf("expected IN_PURGATORY, got %s", sess.State)
	}
	if sess.Meta["room"] != "room-a" {
		t.Fatalf("room not recorded: %v", sess.Meta)
	}

	msgs := box.toRoom("room-a")
	if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1], sess.Code) {
		t.Fatalf("reply misses the code: %v", msgs)
	}
	// 운영방 알림
	if len(box.toRoom("ops-room")) != 1 {
		t.Fatalf("expected one operator notice, got %v", box.toRoom("ops-room"))
	}
	if _, ok := c.LastRender("chat-1"); !ok {
		t.Fatalf("status render not tracked")
	}
}

func TestVerifyRejectsSecondRequest(t *testing.T) {
	c, _, box := newTestController(t)
	ctx := context.Background()

	c.Handle(ctx, "room-a", "chat-1", []string{"Steve123"})
	before := len(box.toRoom("room-a"))

	c.Handle(ctx, "room-a", "chat-1", []string{"Steve123"})
	msgs := box.toRoom("room-a")
	if len(msgs) != before+1 {
		t.Fatalf("expected one rejection message, got %v", msgs)
	}
	if !strings.Contains(msgs[len(msgs)-1], "이미 진행 중") {
		t.Fatalf("unexpected rejection text: %q", msgs[len(msgs)-1])
	}
}

func TestVerifyInvalidFormat(t *testing.T) {
	c, mgr, box := newTestController(t)
	ctx := context.Background()

	c.Handle(ctx, "room-a", "chat-1", []string{"ab"})

	if sess, _ := mgr.Get(ctx, "chat-1"); sess != nil {
		t.Fatalf("no session expected for a malformed name")
	}
	if !strings.Contains(box.last("room-a"), "형식") {
		t.Fatalf("unexpected reply: %q", box.last("room-a"))
	}
}

func TestVerifyUnknownName(t *testing.T) {
	c, _, box := newTestController(t)

	c.Handle(context.Background(), "room-a", "chat-1", []string{"Nobody99"})
	if !strings.Contains(box.last("room-a"), "찾을 수 없습니다") {
		t.Fatalf("unexpected reply: %q", box.last("room-a"))
	}
}

func TestStatusWithoutSession(t *testing.T) {
	c, _, box := newTestController(t)

	c.Handle(context.Background(), "room-a", "chat-1", []string{"현황"})
	if !strings.Contains(box.last("room-a"), "진행 중인 인증이 없습니다") {
		t.Fatalf("unexpected reply: %q", box.last("room-a"))
	}
}

func TestCancelSendsNoticeFromEvent(t *testing.T) {
	c, mgr, box := newTestController(t)
	ctx := context.Background()

	c.Handle(ctx, "room-a", "chat-1", []string{"Steve123"})
	c.Handle(ctx, "room-a", "chat-1", []string{"취소"})

	sess, err := mgr.Get(ctx, "chat-1")
	if err != nil || sess == nil {
		t.Fatalf("Get: %v %v", sess, err)
	}
	if sess.State != purgatory.StateCancelled {
		t.Fatalf("expected CANCELLED, got %s", sess.State)
	}
	if !strings.Contains(box.last("room-a"), "취소") {
		t.Fatalf("cancel notice missing: %q", box.last("room-a"))
	}
}

func TestVerifiedNotificationReachesRoom(t *testing.T) {
	c, mgr, box := newTestController(t)
	ctx := context.Background()

	c.Handle(ctx, "room-a", "chat-1", []string{"Steve123"})
	sess, _ := mgr.Get(ctx, "chat-1")
	if sess == nil {
		t.Fatalf("session missing")
	}

	outcome, _, err := mgr.Redeem(ctx, sess.Code, "Steve123")
	if err != nil || outcome != purgatory.RedeemAccepted {
		t.Fatalf("redeem: %s %v", outcome, err)
	}

	found := false
	for _, m := range box.toRoom("room-a") {
		if strings.Contains(m, "인증 완료") {
			found = true
		}
	}
	if !found {
		t.Fatalf("verified notice missing: %v", box.toRoom("room-a"))
	}
}

func TestEmptyArgsShowsHelp(t *testing.T) {
	c, _, box := newTestController(t)

	c.Handle(context.Background(), "room-a", "chat-1", nil)
	if !strings.Contains(box.last("room-a"), "인증") {
		t.Fatalf("help missing: %q", box.last("room-a"))
	}
}
