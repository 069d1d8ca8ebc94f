package cmdsys

import (
	"reflect"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "plain words",
			in:   "manager shutdown",
			want: []string{"manager", "shutdown"},
		},
		{
			name: "escaped space joins words",
			in:   `Augment\ this  "string"_\"battle\" `,
			want: []string{"Augment this", `string_"battle"`},
		},
		{
			name: "adjacent quoted and unquoted fragments concatenate",
			in:   `a"b c"d`,
			want: []string{"ab cd"},
		},
		{
			name: "empty string",
			in:   "",
			want: nil,
		},
		{
			name: "only whitespace",
			in:   "  \t ",
			want: nil,
		},
		{
			name: "tabs separate like spaces",
			in:   "a\tb",
			want: []string{"a", "b"},
		},
		{
			name: "trailing backslash with nothing to escape is dropped",
			in:   `a\`,
			want: []string{"a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.in)
			if err != nil {
				t.Fatalf("Split(%q) returned error: %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitUnmatchedQuote(t *testing.T) {
	_, err := Split(`"unterminated`)
	if err != ErrUnmatchedQuote {
		t.Fatalf("Split(unterminated quote) error = %v, want %v", err, ErrUnmatchedQuote)
	}
}

func TestSplitRoundTrip(t *testing.T) {
	// split composed with a trivial quoting of each argument (wrap in
	// quotes, escaping any embedded quote) is the identity, for any
	// argument vector whose words contain no raw tab/space/backslash that
	// would need its own escaping beyond quoting.
	words := []string{"alice", "hello world", `with "quotes"`}
	var quoted string
	for i, w := range words {
		if i > 0 {
			quoted += " "
		}
		quoted += `"`
		for _, r := range w {
			if r == '"' || r == '\\' {
				quoted += `\`
			}
			quoted += string(r)
		}
		quoted += `"`
	}

	got, err := Split(quoted)
	if err != nil {
		t.Fatalf("Split(%q) returned error: %v", quoted, err)
	}
	if !reflect.DeepEqual(got, words) {
		t.Errorf("Split(quote(%#v)) = %#v, want %#v", words, got, words)
	}
}
