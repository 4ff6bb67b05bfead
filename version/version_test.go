package version

import (
	"strings"
	"testing"
)

// TestVersion ensures the banner embeds the version string.
func TestVersion(t *testing.T) {
	v := GetVersionString()
	banner := GetVersionBanner()

	if v == "" {
		t.Fatalf("version string is empty")
	}
	if !strings.Contains(banner, v) {
		t.Fatalf("banner doesn't contain our version")
	}
	if !strings.Contains(banner, "cpmrun") {
		t.Fatalf("banner doesn't name the program")
	}
}
