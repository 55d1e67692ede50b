// Package artifact keeps durable, deduplicated local copies of generated
// images, keyed by client-chosen artifact ids.
package artifact

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"photobooth/internal/domain"
)

// Extension is the suffix of every stored artifact file.
const Extension = ".png"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Record maps an artifact id to its local copy.
type Record struct {
	ID        string    `json:"id"`
	RemoteURL string    `json:"remoteUrl"`
	FileName  string    `json:"fileName"`
	LocalURL  string    `json:"localUrl"`
	CreatedAt time.Time `json:"createdAt"`
	SizeBytes int64     `json:"sizeBytes"`
}

// ValidateID rejects ids that could not safely become a file name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidArtifactID, truncate(id, 32))
	}
	return nil
}

// FileName is the deterministic on-disk name for id.
func FileName(id string) string {
	return id + Extension
}

// IDFromFileName reverses FileName. ok is false for names that no valid id maps to.
func IDFromFileName(name string) (string, bool) {
	id, found := strings.CutSuffix(name, Extension)
	if !found || ValidateID(id) != nil {
		return "", false
	}
	return id, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
