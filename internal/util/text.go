package util

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Ellipsis is appended to text cut by TruncateText.
const Ellipsis = "..."

// emojiTable covers pictographic blocks plus the joiners and modifiers
// that glue emoji sequences together.
var emojiTable = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200d, Hi: 0x200d, Stride: 1}, // zero width joiner
		{Lo: 0x20e3, Hi: 0x20e3, Stride: 1}, // combining keycap
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1}, // misc symbols, dingbats
		{Lo: 0x2b00, Hi: 0x2bff, Stride: 1}, // arrows and stars
		{Lo: 0xfe0e, Hi: 0xfe0f, Stride: 1}, // variation selectors
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1faff, Stride: 1}, // mahjong through symbols and pictographs ext-A
		{Lo: 0xe0020, Hi: 0xe007f, Stride: 1}, // tag sequences
	},
}

// StripEmoji removes emoji and pictographic code points and trims the result.
func StripEmoji(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(emojiTable, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// VisibleLength counts user-perceived characters (grapheme clusters).
func VisibleLength(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// TruncateText shortens s to at most maxRunes runes, preferring to cut at a
// word boundary in the last fifth of the window, and appends Ellipsis.
func TruncateText(s string, maxRunes int) string {
	if maxRunes <= len(Ellipsis) || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:maxRunes-len(Ellipsis)])
	if idx := strings.LastIndex(cut, " "); idx >= 0 && utf8.RuneCountInString(cut[:idx]) > maxRunes*4/5 {
		cut = cut[:idx]
	}
	return cut + Ellipsis
}

// markdownV2Special lists every character Telegram MarkdownV2 requires escaped.
const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 escapes s for Telegram's MarkdownV2 parse mode.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/8)
	for _, r := range s {
		if strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FitMarkdownV2 renders a bold heading followed by body, both escaped, and
// shortens body until the rendered text fits into limit runes.
func FitMarkdownV2(heading, body string, limit int) string {
	head := ""
	if heading != "" {
		head = "*" + EscapeMarkdownV2(heading) + "*\n\n"
	}
	const minBudget = 2 * len(Ellipsis)
	budget := utf8.RuneCountInString(body)
	for {
		out := head + EscapeMarkdownV2(TruncateText(body, budget))
		if utf8.RuneCountInString(out) <= limit || budget <= minBudget {
			return out
		}
		step := (utf8.RuneCountInString(out)-limit)/2 + 1
		if step < 32 {
			step = 32
		}
		budget -= step
		if budget < minBudget {
			budget = minBudget
		}
	}
}
