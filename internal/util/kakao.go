package util

import "strings"

const (
	KakaoSeeMorePadding = 500
	KakaoZeroWidthSpace = "​"
)

// 긴 안내문(도움말 등)을 카카오톡 '전체보기' 뒤로 접는다: 지침 한 줄만
// 미리보기에 남고 본문은 제로폭 문자 패딩 아래로 밀린다.
func ApplyKakaoSeeMorePadding(text, instruction string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	header := strings.TrimSpace(instruction)

	var b strings.Builder
	b.Grow(len(header) + KakaoSeeMorePadding + len(text) + 2)

	if header != "" {
		b.WriteString(header)
	}
	b.WriteString(strings.Repeat(KakaoZeroWidthSpace, KakaoSeeMorePadding))
	if !strings.HasPrefix(text, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(text)

	return b.String()
}
