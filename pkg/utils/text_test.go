package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("signalé deux fois", 7); got != "signalé..." {
		t.Errorf("multibyte: got %q", got)
	}
}

func TestPadRight(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"ab", 4, "ab  "},
		{"abcd", 2, "abcd"},
		{"é", 3, "é  "},
	}
	for _, tt := range tests {
		if got := PadRight(tt.in, tt.width); got != tt.want {
			t.Errorf("PadRight(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestSingleLine(t *testing.T) {
	if got := SingleLine("a\r\nb\tc\nd"); got != "a b c d" {
		t.Errorf("SingleLine = %q", got)
	}
}
