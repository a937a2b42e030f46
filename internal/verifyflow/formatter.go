package verifyflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/msgcat"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/purgatory"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/util"
	"github.com/park285/Cheese-Gatekeeper-bot/pkg/verifydto"
)

const helpInstruction = "🛡️ 인증 명령어 안내"

// PrefixProvider exposes the Prefix that Kakao messages should use.
type PrefixProvider interface {
	Prefix() string
}

// Formatter renders verification DTOs into Kakao-friendly text via the
// message catalog.
type Formatter struct {
	prefixProvider PrefixProvider
	cat            *msgcat.Catalog
}

func NewFormatter(provider PrefixProvider, cat *msgcat.Catalog) *Formatter {
	return &Formatter{prefixProvider: provider, cat: cat}
}

func (f *Formatter) Prefix() string {
	if f == nil || f.prefixProvider == nil {
		return ""
	}
	return strings.TrimSpace(f.prefixProvider.Prefix())
}

func (f *Formatter) Usage() string {
	return f.render("verify.usage", map[string]any{"Prefix": f.Prefix()},
		"용법: "+f.Prefix()+"인증 <게임닉네임>")
}

func (f *Formatter) Opened(view *verifydto.SessionView) string {
	if view == nil {
		return f.Usage()
	}
	return f.render("verify.opened", map[string]any{
		"Name":      view.Name,
		"Bridged":   view.Bridged,
		"Code":      view.Code,
		"Remaining": formatDuration(view.Remaining),
	}, "인증 코드: "+view.Code)
}

func (f *Formatter) Status(view *verifydto.SessionView) string {
	if view == nil {
		return f.NoneActive()
	}
	return f.render("verify.status", map[string]any{
		"Name":      view.Name,
		"State":     stateLabel(purgatory.State(view.State)),
		"Remaining": formatDuration(view.Remaining),
		"Code":      view.Code,
	}, "인증 진행 중: "+view.Name)
}

func (f *Formatter) Warn(view *verifydto.SessionView, remaining time.Duration) string {
	name, code := "", ""
	if view != nil {
		name, code = view.Name, view.Code
	}
	return f.render("verify.warn", map[string]any{
		"Name":      name,
		"Remaining": formatDuration(remaining),
		"Code":      code,
	}, fmt.Sprintf("인증 만료까지 %s 남았습니다.", formatDuration(remaining)))
}

func (f *Formatter) Verified(view *verifydto.SessionView) string {
	return f.render("verify.verified", map[string]any{"Name": viewName(view)}, "✅ 인증 완료!")
}

func (f *Formatter) Member(view *verifydto.SessionView) string {
	return f.render("verify.member", map[string]any{"Name": viewName(view)}, "🎉 정회원이 되었습니다.")
}

func (f *Formatter) Expired() string {
	return f.render("verify.expired", map[string]any{"Prefix": f.Prefix()}, "⌛ 인증 시간이 만료되었습니다.")
}

func (f *Formatter) Cancelled() string {
	return f.render("verify.cancelled", nil, "🛑 인증이 취소되었습니다.")
}

func (f *Formatter) AlreadyActive() string {
	return f.render("verify.already_active", map[string]any{"Prefix": f.Prefix()}, "이미 진행 중인 인증이 있습니다.")
}

func (f *Formatter) NoneActive() string {
	return f.render("verify.none_active", map[string]any{"Prefix": f.Prefix()}, "진행 중인 인증이 없습니다.")
}

func (f *Formatter) ValidationFailure(key string) string {
	return f.render("verify."+key, map[string]any{"Prefix": f.Prefix()}, "인증 요청을 처리할 수 없습니다.")
}

func (f *Formatter) Help() string {
	text := f.render("help.text", map[string]any{"Prefix": f.Prefix()}, "인증 명령: "+f.Prefix()+"인증 <닉네임>")
	return util.ApplyKakaoSeeMorePadding(text, helpInstruction)
}

// Operator renders the operator-channel notice for an event kind.
func (f *Formatter) Operator(kind purgatory.EventKind, view *verifydto.SessionView) string {
	if view == nil {
		return ""
	}
	data := map[string]any{
		"SessionID": view.SessionID,
		"ChatID":    view.ChatID,
		"Name":      view.Name,
		"Bridged":   view.Bridged,
		"Attempts":  view.Attempts,
	}
	switch kind {
	case purgatory.EventOpened:
		return f.render("ops.opened", data, "")
	case purgatory.EventVerified:
		return f.render("ops.verified", data, "")
	case purgatory.EventMember:
		return f.render("ops.member", data, "")
	case purgatory.EventExpired:
		return f.render("ops.expired", data, "")
	case purgatory.EventCancelled:
		return f.render("ops.cancelled", data, "")
	case purgatory.EventFailed:
		return f.render("ops.failed", data, "")
	default:
		return ""
	}
}

func (f *Formatter) render(key string, data map[string]any, fallback string) string {
	if f == nil || f.cat == nil {
		return fallback
	}
	if data == nil {
		data = map[string]any{}
	}
	return f.cat.RenderOr(key, data, fallback)
}

func viewName(view *verifydto.SessionView) string {
	if view == nil {
		return ""
	}
	return view.Name
}

func stateLabel(s purgatory.State) string {
	switch s {
	case purgatory.StatePending:
		return "확인 중"
	case purgatory.StateInPurgatory:
		return "코드 입력 대기"
	case purgatory.StateVerified:
		return "인증 완료"
	case purgatory.StateMember:
		return "정회원"
	case purgatory.StateExpired:
		return "만료"
	case purgatory.StateCancelled:
		return "취소됨"
	case purgatory.StateFailed:
		return "실패"
	default:
		return string(s)
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	switch {
	case m > 0 && s > 0:
		return fmt.Sprintf("%d분 %d초", m, s)
	case m > 0:
		return fmt.Sprintf("%d분", m)
	default:
		return fmt.Sprintf("%d초", s)
	}
}
