package module

import "testing"

func TestValidName(t *testing.T) {
	valid := []string{"a", "persona", "memory_compressor", "a1", "x23456789"}
	for _, name := range valid {
		if !ValidName(name) {
			t.Errorf("expected %q to be a valid module name", name)
		}
	}

	invalid := []string{"", "Persona", "1abc", "_abc", "has space", "has-dash"}
	for _, name := range invalid {
		if ValidName(name) {
			t.Errorf("expected %q to be an invalid module name", name)
		}
	}
}

func TestValidName_LengthBoundary(t *testing.T) {
	ok := "a" + stringOfLen('b', 49)
	if !ValidName(ok) {
		t.Errorf("expected a 50-character name to be valid, got %q", ok)
	}

	tooLong := "a" + stringOfLen('b', 50)
	if ValidName(tooLong) {
		t.Errorf("expected a 51-character name to be invalid, got %q", tooLong)
	}
}

func stringOfLen(r byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = r
	}
	return string(b)
}
