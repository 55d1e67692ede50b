package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sethvargo/go-retry"

	"photobooth/internal/domain"
)

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// UploadImage pushes the file at path to the backend and returns the name the
// backend stored it under. A missing file fails immediately; transport errors
// and non-2xx responses are retried according to the upload policy. The local
// file is never modified.
func (c *Client) UploadImage(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &domain.UploadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return "", &domain.UploadError{Path: path, Err: fmt.Errorf("%s is a directory", path)}
	}

	contentType := "image/png"
	if mt, err := mimetype.DetectFile(path); err == nil && strings.HasPrefix(mt.String(), "image/") {
		contentType = mt.String()
	}

	attempts := 0
	name, err := retry.DoValue(ctx, c.uploadBackoff(), func(ctx context.Context) (string, error) {
		attempts++
		name, err := c.uploadOnce(ctx, path, contentType)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", err
			}
			c.logger.Warn().Err(err).Str("path", path).Int("attempt", attempts).Msg("comfy: upload attempt failed")
			return "", retry.RetryableError(err)
		}
		return name, nil
	})
	if err != nil {
		return "", &domain.UploadError{Path: path, Attempts: attempts, Err: err}
	}
	c.logger.Debug().Str("path", path).Str("name", name).Int("attempts", attempts).Msg("comfy: uploaded image")
	return name, nil
}

// uploadBackoff builds the delay schedule between attempts. Jitter is added on
// top of the schedule, so no delay is shorter than the configured base.
func (c *Client) uploadBackoff() retry.Backoff {
	p := c.upload
	var b retry.Backoff
	if p.Backoff == BackoffConstant {
		b = retry.NewConstant(p.Delay)
	} else {
		b = retry.NewExponential(p.Delay)
		if p.MaxDelay >= p.Delay {
			b = retry.WithCappedDuration(p.MaxDelay, b)
		}
	}
	if p.Jitter > 0 {
		b = withAdditiveJitter(p.Jitter, b)
	}
	if p.MaxElapsed > 0 {
		b = retry.WithMaxDuration(p.MaxElapsed, b)
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

func withAdditiveJitter(j time.Duration, next retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if stop {
			return 0, true
		}
		return d + time.Duration(rand.Int64N(int64(j)+1)), false
	})
}

func (c *Client) uploadOnce(ctx context.Context, path, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.upload.AttemptTimeout)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}

	// The body is streamed through a pipe; the transport closes the reader on
	// every path, which unblocks the writer goroutine.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		pw.CloseWithError(writeUploadForm(mw, f, filepath.Base(path), contentType))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("comfy: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("comfy: upload status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}
	var decoded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("comfy: decode upload response: %w", err)
	}
	if name := strings.TrimSpace(decoded.Name); name != "" {
		return name, nil
	}
	return filepath.Base(path), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeUploadForm(mw *multipart.Writer, src io.Reader, filename, contentType string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return err
	}
	return mw.Close()
}
