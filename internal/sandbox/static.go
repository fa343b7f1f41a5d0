package sandbox

import (
	"fmt"
	"strings"

	"scraper-worker-service/internal/entity"
)

// CheckStructure verifies that a script exposes the entry points the
// runner will call, before any process is spawned. The check is textual
// on purpose: it rejects obviously broken uploads cheaply and leaves
// real verification to the sample run.
func CheckStructure(script string, kind entity.ScriptKind) error {
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("script is empty")
	}

	var required []string
	switch kind {
	case entity.ScriptPython:
		required = []string{"def scrape", "def get_metadata"}
	case entity.ScriptTypeScript:
		required = []string{"async function scrape", "function getMetadata"}
	default:
		return fmt.Errorf("unsupported script kind %q", kind)
	}

	for _, want := range required {
		if !strings.Contains(script, want) {
			return fmt.Errorf("script is missing required %s definition %q", kind, want)
		}
	}
	return nil
}
