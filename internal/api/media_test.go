package api

import "testing"

func TestExtractVideoID(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"bare id", "dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"watch url extra params", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"embed url", "https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"shorts url", "https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"padded input", "  dQw4w9WgXcQ  ", "dQw4w9WgXcQ"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractVideoID(tc.input)
			if err != nil {
				t.Fatalf("ExtractVideoID(%q): %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("ExtractVideoID(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestExtractVideoIDRejectsGarbage(t *testing.T) {
	for _, input := range []string{
		"",
		"not a url",
		"https://example.com/watch?v=tooshort",
		"https://www.youtube.com/watch",
		"abc",
	} {
		if id, err := ExtractVideoID(input); err == nil {
			t.Errorf("ExtractVideoID(%q) = %q, want error", input, id)
		}
	}
}
