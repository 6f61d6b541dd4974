package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"tiny maxLen returns ellipsis", "hello", 3, "..."},
		{"zero maxLen returns ellipsis", "hello", 0, "..."},
		{"unicode counted as runes", "héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestTruncateANSI(t *testing.T) {
	plain := "hello world"
	if got := TruncateANSI(plain, 20); got != plain {
		t.Errorf("short string changed: %q", got)
	}
	got := TruncateANSI(plain, 8)
	if lipgloss.Width(got) > 8 {
		t.Errorf("truncated width %d exceeds 8: %q", lipgloss.Width(got), got)
	}

	styled := lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("hello world")
	got = TruncateANSI(styled, 8)
	if lipgloss.Width(got) > 8 {
		t.Errorf("styled truncation width %d exceeds 8", lipgloss.Width(got))
	}

	if got := TruncateANSI(plain, 2); got != "..." {
		t.Errorf("tiny width = %q, want ellipsis", got)
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"one line", "one line"},
		{"first\nsecond", "first"},
		{"  padded  \nrest", "padded"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FirstLine(tt.input); got != tt.expected {
			t.Errorf("FirstLine(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
