package sanitize

import (
	"strings"
	"testing"
)

func TestName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain",
			input:    "lidar_run_01",
			expected: "lidar_run_01",
		},
		{
			name:     "spaces and case kept",
			input:    "Lidar Run 1",
			expected: "Lidar Run 1",
		},
		{
			name:     "slashes to underscores",
			input:    "lidar/run",
			expected: "lidar_run",
		},
		{
			name:     "control characters",
			input:    "run\t1\n",
			expected: "run_1",
		},
		{
			name:     "surrounding dots trimmed",
			input:    " .hidden. ",
			expected: "hidden",
		},
		{
			name:     "empty string",
			input:    "",
			expected: DefaultName,
		},
		{
			name:     "only separators",
			input:    "///",
			expected: DefaultName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Name(tt.input); got != tt.expected {
				t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestName_LengthLimit(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := Name(long)

	if len(got) > MaxNameLength {
		t.Errorf("Name() length = %d, want <= %d", len(got), MaxNameLength)
	}
	if !strings.HasPrefix(got, "aaaa") {
		t.Errorf("Name() = %q, want prefix preserved", got)
	}
}

func TestName_LengthLimit_Uniqueness(t *testing.T) {
	a := Name(strings.Repeat("a", 300) + "x")
	b := Name(strings.Repeat("a", 300) + "y")

	if a == b {
		t.Errorf("truncated names collide: %q", a)
	}
}

func TestName_LengthLimit_Multibyte(t *testing.T) {
	got := Name(strings.Repeat("é", 200))

	if len(got) > MaxNameLength {
		t.Errorf("Name() length = %d, want <= %d", len(got), MaxNameLength)
	}
	if !strings.HasPrefix(got, "é") || strings.ContainsRune(got, '�') {
		t.Errorf("Name() split a rune: %q", got)
	}
}
