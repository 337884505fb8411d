package language

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Language
		wantErr  bool
	}{
		{"english", English, false},
		{"Hindi", Hindi, false},
		{" punjabi ", Punjabi, false},
		{"hi", Hindi, false},
		{"hi-IN", Hindi, false},
		{"pa", Punjabi, false},
		{"en-US", English, false},
		{"french", "", true},
		{"fr", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q, got %v", tt.input, got)
				}
				if !errors.Is(err, ErrUnsupported) {
					t.Errorf("Expected ErrUnsupported, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCodes(t *testing.T) {
	expected := map[Language]string{
		English: "en",
		Hindi:   "hi",
		Punjabi: "pa",
	}
	for l, code := range expected {
		if got := l.Code(); got != code {
			t.Errorf("%s.Code() = %q, want %q", l, got, code)
		}
		if !l.Valid() {
			t.Errorf("%s should be valid", l)
		}
	}

	if Language("klingon").Valid() {
		t.Error("unexpected valid language")
	}
}

func TestAllIsCopy(t *testing.T) {
	langs := All()
	langs[0] = "mutated"
	if All()[0] != English {
		t.Error("All must return a copy")
	}
}
