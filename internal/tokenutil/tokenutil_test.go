package tokenutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{name: "empty string", content: "", want: 0},
		{name: "single word", content: "hello", want: 1},
		{
			name:    "sentence",
			content: "The quick brown fox jumps over the lazy dog near the river bank",
			want:    17, // 13 words * 1.33 = 17, 63/4 = 15
		},
		{
			name:    "code",
			content: `func main() { fmt.Println("hello") }`,
			want:    9, // 37/4 = 9 beats 4 words * 1.33
		},
		{
			name:    "CJK text",
			content: "你好世界欢迎光临",
			want:    6, // 24 bytes / 4
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.content); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d; want %d", tt.content, got, tt.want)
			}
		})
	}
}

func TestTruncate_FitsUntouched(t *testing.T) {
	in := "ship the release notes"
	got, cut := Truncate(in, 100)
	if cut || got != in {
		t.Fatalf("Truncate = %q, %v; want input unchanged", got, cut)
	}
}

func TestTruncate_WholeWords(t *testing.T) {
	in := strings.Repeat("alpha beta gamma delta ", 50)
	got, cut := Truncate(in, 20)
	if !cut {
		t.Fatal("expected truncation")
	}
	if EstimateTokens(got) > 20 {
		t.Fatalf("estimate %d exceeds budget", EstimateTokens(got))
	}
	if !strings.HasPrefix(in, got) {
		t.Fatal("result is not a prefix")
	}
	last := got[strings.LastIndexByte(got, ' ')+1:]
	switch last {
	case "alpha", "beta", "gamma", "delta":
	default:
		t.Fatalf("cut mid-word: %q", last)
	}
	// One more word must not fit.
	next := in[:len(got)+1+len(strings.Fields(in[len(got):])[0])]
	if EstimateTokens(next) <= 20 {
		t.Fatalf("prefix %q still fits; truncation too aggressive", next)
	}
}

func TestTruncate_SingleLongRun(t *testing.T) {
	in := strings.Repeat("é", 100) // 200 bytes, no spaces
	got, cut := Truncate(in, 5)
	if !cut {
		t.Fatal("expected truncation")
	}
	if !utf8.ValidString(got) {
		t.Fatalf("cut inside a rune: %q", got)
	}
	if len(got) > 20 {
		t.Fatalf("len = %d, want <= 20", len(got))
	}
}

func TestTruncate_ZeroBudget(t *testing.T) {
	got, cut := Truncate("anything", 0)
	if got != "" || !cut {
		t.Fatalf("Truncate(_, 0) = %q, %v", got, cut)
	}
}
