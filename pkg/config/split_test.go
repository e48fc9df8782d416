package config

import (
	"testing"
)

func TestSplitQuotedFields(t *testing.T) {
	in := `debug_agent --port 2345 --name 'zircon agent' --sym'b'ols '/data/my\' symbols'`
	tgt := []string{"debug_agent", "--port", "2345", "--name", "zircon agent", "--symbols", "/data/my' symbols"}
	out := SplitQuotedFields(in, '\'')

	if len(tgt) != len(out) {
		t.Fatalf("expected %#v, got %#v (len mismatch)", tgt, out)
	}

	for i := range tgt {
		if tgt[i] != out[i] {
			t.Fatalf("expected %#v, got %#v (mismatch at %d)", tgt, out, i)
		}
	}
}

func TestSplitDoubleQuotedFields(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{
			name:     "generic test case",
			in:       `--id "build-1234" --attach "proc name" fie"l'd"C`,
			expected: []string{"--id", "build-1234", "--attach", "proc name", "fiel'dC"},
		},
		{
			name:     "escaped quote",
			in:       `--name "agent \"two\""`,
			expected: []string{"--name", `agent "two"`},
		},
		{
			name:     "with empty string in the end",
			in:       `--filter "" `,
			expected: []string{"--filter", ""},
		},
		{
			name:     "with empty string at the beginning",
			in:       ` "" --verbose`,
			expected: []string{"", "--verbose"},
		},
		{
			name:     "lots of spaces",
			in:       `    --verbose   `,
			expected: []string{"--verbose"},
		},
		{
			name:     "only empty strings",
			in:       ` "" "" """" `,
			expected: []string{"", "", ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := SplitQuotedFields(tt.in, '"')
			if len(tt.expected) != len(out) {
				t.Fatalf("expected %#v, got %#v (len mismatch)", tt.expected, out)
			}

			for i := range tt.expected {
				if tt.expected[i] != out[i] {
					t.Fatalf("expected %#v, got %#v (mismatch at %d)", tt.expected, out, i)
				}
			}
		})
	}
}
