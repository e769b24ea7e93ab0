// ABOUTME: Tests for version information
// ABOUTME: Ensures identification strings are defined and well formed
package version

import (
	"strings"
	"testing"
)

func TestIdentificationDefined(t *testing.T) {
	fields := map[string]string{
		"Version":      Version,
		"Product":      Product,
		"Manufacturer": Manufacturer,
	}

	for name, value := range fields {
		if value == "" {
			t.Errorf("%s should not be empty", name)
		}
		if len(value) > 100 {
			t.Errorf("%s is unreasonably long", name)
		}
		for _, placeholder := range []string{"TODO", "FIXME", "XXX", "placeholder"} {
			if value == placeholder {
				t.Errorf("%s should not be placeholder value: %s", name, placeholder)
			}
		}
	}
}

func TestString(t *testing.T) {
	s := String()

	if !strings.HasPrefix(s, Product+" ") {
		t.Errorf("expected %q to start with the product name", s)
	}
	if !strings.Contains(s, Version) {
		t.Errorf("expected %q to contain version %s", s, Version)
	}
}
