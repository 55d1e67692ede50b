package sqlinline

import (
	"strings"
	"testing"

	"photobooth/internal/infra"
)

func TestArtifactQueriesCarryMarkers(t *testing.T) {
	queries := map[string]string{
		"QSelectArtifactByID":     QSelectArtifactByID,
		"QInsertArtifactIfAbsent": QInsertArtifactIfAbsent,
		"QDeleteArtifact":         QDeleteArtifact,
		"QListArtifacts":          QListArtifacts,
	}
	seen := map[string]string{}
	for name, q := range queries {
		marker, body, err := infra.ExtractMarker(q)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if other, dup := seen[marker]; dup {
			t.Fatalf("%s reuses marker of %s", name, other)
		}
		seen[marker] = name
		if !strings.Contains(body, "artifacts") {
			t.Fatalf("%s body does not touch artifacts: %q", name, body)
		}
	}
}
