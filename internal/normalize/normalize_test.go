package normalize

import "testing"

func TestQuestion(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hours", want: "hours"},
		{name: "case and trailing mark", in: "Hours?", want: "hours"},
		{name: "surrounding whitespace", in: "  What are your hours?  ", want: "what are your hours"},
		{name: "punctuation inside", in: "Hi, do you do henna? Yes.", want: "hi do you do henna yes"},
		{name: "space before mark", in: "hours ?", want: "hours"},
		{name: "only punctuation", in: "?!.,", want: ""},
		{name: "empty", in: "", want: ""},
		{name: "other punctuation kept", in: "Open 9-7; Mon?", want: "open 9-7; mon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Question(tt.in); got != tt.want {
				t.Fatalf("Question(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQuestionIdempotent(t *testing.T) {
	inputs := []string{
		"Hours?",
		"  Do you do HENNA ?! ",
		"a . b , c",
		"\tWhat time do you open.\n",
		"",
	}
	for _, in := range inputs {
		once := Question(in)
		if twice := Question(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
	if Question("Hours?") != Question("hours") {
		t.Fatalf("expected case and punctuation insensitive keys")
	}
}
