package providers

import (
	"context"
	"strings"
	"testing"
)

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  hello  ", "hello"},
		{"hello\n world\t again", "hello world again"},
		{"one", "one"},
	}
	for _, tc := range cases {
		if got := collapseWhitespace(tc.in); got != tc.want {
			t.Fatalf("collapseWhitespace(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncateOutput(t *testing.T) {
	t.Parallel()

	if got := truncateOutput("  short  "); got != "short" {
		t.Fatalf("truncateOutput=%q", got)
	}
	long := strings.Repeat("e", 500)
	if got := truncateOutput(long); len(got) != 400 {
		t.Fatalf("len=%d, want 400", len(got))
	}
}

func TestPiperRejectsUnconfiguredVoice(t *testing.T) {
	t.Parallel()

	synth := NewPiperSynthesizer("piper", func(string) string { return "" }, discardLogger())
	_, _, err := synth.Synthesize(context.Background(), "hello", "en", 1.0)
	if err == nil || !strings.Contains(err.Error(), "no voice model") {
		t.Fatalf("err=%v, want the missing model error", err)
	}
}
