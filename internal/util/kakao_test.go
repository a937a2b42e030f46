package util

import (
	"strings"
	"testing"
)

func TestApplyKakaoSeeMorePadding(t *testing.T) {
	out := ApplyKakaoSeeMorePadding("본문 안내", "🛡️ 인증 명령어 안내")

	if !strings.HasPrefix(out, "🛡️ 인증 명령어 안내") {
		t.Fatalf("instruction must lead the message: %q", out[:40])
	}
	if strings.Count(out, KakaoZeroWidthSpace) != KakaoSeeMorePadding {
		t.Fatalf("expected %d zero-width pads", KakaoSeeMorePadding)
	}
	if !strings.HasSuffix(out, "\n본문 안내") {
		t.Fatalf("body must follow on its own line")
	}
}

func TestApplyKakaoSeeMorePaddingEmpty(t *testing.T) {
	if out := ApplyKakaoSeeMorePadding("   ", "지침"); out != "   " {
		t.Fatalf("blank body must pass through unchanged: %q", out)
	}
}
