package handlers

import (
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
)

func removeTemp(log *zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Error().Err(err).Str("path", path).Msg("cleanup: failed to remove temporary file")
		return
	}
	log.Debug().Str("path", path).Msg("cleanup: removed temporary file")
}
