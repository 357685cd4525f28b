package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStripEmoji(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"😀😀 hi 🌙", "hi"},
		{"сон ✨ про море", "сон  про море"},
		{"❤️", ""},
		{"👨‍👩‍👧 family", "family"},
		{"🇺🇦 flag", "flag"},
	}
	for _, tt := range tests {
		if got := StripEmoji(tt.in); got != tt.want {
			t.Errorf("StripEmoji(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVisibleLength(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hello", 5},
		{"привет", 6},
		{"é", 1},
		{"👨‍👩‍👧", 1},
	}
	for _, tt := range tests {
		if got := VisibleLength(tt.in); got != tt.want {
			t.Errorf("VisibleLength(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWordCount(t *testing.T) {
	if got := WordCount("  one two\tthree\nfour  "); got != 4 {
		t.Errorf("expected 4 words, got %d", got)
	}
	if got := WordCount("   "); got != 0 {
		t.Errorf("expected 0 words, got %d", got)
	}
}

func TestTruncateText(t *testing.T) {
	short := "short text"
	if got := TruncateText(short, 100); got != short {
		t.Errorf("short text changed: %q", got)
	}

	if got := TruncateText(strings.Repeat("a", 10), 5); got != "aa..." {
		t.Errorf("expected hard cut, got %q", got)
	}

	long := strings.Repeat("word ", 30)
	got := TruncateText(long, 100)
	if utf8.RuneCountInString(got) > 100 {
		t.Errorf("truncated text too long: %d runes", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, "word...") {
		t.Errorf("expected cut at a word boundary, got %q", got[len(got)-12:])
	}

	cyr := strings.Repeat("сон ", 1500)
	got = TruncateText(cyr, 4000)
	if n := utf8.RuneCountInString(got); n > 4000 {
		t.Errorf("expected at most 4000 runes, got %d", n)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a multi-byte rune")
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	in := "a.b_c*d!e[f](g)#h+i-j`k"
	want := `a\.b\_c\*d\!e\[f\]\(g\)\#h\+i\-j` + "\\`k"
	if got := EscapeMarkdownV2(in); got != want {
		t.Errorf("EscapeMarkdownV2 = %q, want %q", got, want)
	}
	if got := EscapeMarkdownV2(`back\slash`); got != `back\\slash` {
		t.Errorf("backslash not escaped: %q", got)
	}
}

func TestFitMarkdownV2(t *testing.T) {
	body := strings.Repeat("a.b ", 2000)
	out := FitMarkdownV2("Done:", body, 4096)
	if n := utf8.RuneCountInString(out); n > 4096 {
		t.Errorf("rendered text exceeds limit: %d", n)
	}
	if !strings.HasPrefix(out, "*Done:*\n\n") {
		t.Errorf("missing heading: %q", out[:20])
	}
	if !strings.HasSuffix(out, `\.\.\.`) {
		t.Errorf("expected escaped ellipsis suffix, got %q", out[len(out)-10:])
	}

	small := FitMarkdownV2("", "hi!", 4096)
	if small != `hi\!` {
		t.Errorf("unexpected small render %q", small)
	}
}
