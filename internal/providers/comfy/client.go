// Package comfy talks to a ComfyUI-style generation backend: it uploads input
// images, queues workflow prompts and polls prompt history for outputs.
package comfy

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"photobooth/internal/infra"
)

// Backoff policy names accepted by UploadPolicy.Backoff.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// UploadPolicy bounds the retries of a single asset upload.
type UploadPolicy struct {
	MaxAttempts    int
	Delay          time.Duration
	MaxDelay       time.Duration
	Jitter         time.Duration
	MaxElapsed     time.Duration
	Backoff        string
	AttemptTimeout time.Duration
}

// PollPolicy bounds how long and how often a prompt is polled.
type PollPolicy struct {
	Interval  time.Duration
	MaxWait   time.Duration
	MaxErrors int
}

// Options configures the backend client.
type Options struct {
	BaseURL    string
	OutputNode string
	Upload     UploadPolicy
	Poll       PollPolicy
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls against one backend instance. It is safe for
// concurrent use.
type Client struct {
	baseURL    string
	outputNode string
	upload     UploadPolicy
	poll       PollPolicy
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with defaults for every unset option.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("comfy: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.New("comfy: invalid base url")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Per-attempt and poll deadlines come from contexts, not the client.
		httpClient = &http.Client{}
	}
	outputNode := strings.TrimSpace(opts.OutputNode)
	if outputNode == "" {
		outputNode = "20"
	}

	upload := opts.Upload
	if upload.MaxAttempts <= 0 {
		upload.MaxAttempts = 3
	}
	if upload.Delay <= 0 {
		upload.Delay = 2 * time.Second
	}
	if upload.Backoff == "" {
		upload.Backoff = BackoffExponential
	}
	if upload.AttemptTimeout <= 0 {
		upload.AttemptTimeout = time.Minute
	}

	poll := opts.Poll
	if poll.Interval <= 0 {
		poll.Interval = time.Second
	}
	if poll.MaxWait <= 0 {
		poll.MaxWait = 5 * time.Minute
	}
	if poll.MaxErrors <= 0 {
		poll.MaxErrors = 1
	}

	return &Client{
		baseURL:    baseURL,
		outputNode: outputNode,
		upload:     upload,
		poll:       poll,
		httpClient: httpClient,
		logger:     infra.OrDiscard(opts.Logger),
	}, nil
}

// BaseURL returns the backend root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ViewURL builds the locator from which an output can be downloaded.
func (c *Client) ViewURL(out Output) string {
	q := url.Values{}
	q.Set("filename", out.Filename)
	q.Set("subfolder", out.Subfolder)
	q.Set("type", out.Type)
	return c.baseURL + "/view?" + q.Encode()
}

// readSnippet returns at most 1 KiB of a response body for error messages.
func readSnippet(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 1024))
	return strings.TrimSpace(string(raw))
}
