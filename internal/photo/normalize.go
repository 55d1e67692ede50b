// Package photo prepares captured photos before they are sent to the backend.
package photo

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Normalizer applies EXIF orientation and bounds the longest edge.
type Normalizer struct {
	MaxDimension int
}

// Normalize writes an upright PNG copy of src next to it and returns its path.
// With MaxDimension <= 0 the photo is passed through untouched and src is
// returned as-is.
func (n Normalizer) Normalize(src string) (string, error) {
	if n.MaxDimension <= 0 {
		return src, nil
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("photo: decode %s: %w", filepath.Base(src), err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return "", errors.New("photo: empty image")
	}
	if bounds.Dx() > n.MaxDimension || bounds.Dy() > n.MaxDimension {
		img = imaging.Fit(img, n.MaxDimension, n.MaxDimension, imaging.Lanczos)
	}

	dst := strings.TrimSuffix(src, filepath.Ext(src)) + "-normalized.png"
	if err := imaging.Save(img, dst); err != nil {
		return "", fmt.Errorf("photo: save %s: %w", filepath.Base(dst), err)
	}
	return dst, nil
}
