// Package telegram wraps the Telegram Bot HTTP API for bizarchive.
//
// It provides the operations the archiver needs: long-poll update
// fetching, outbound text and document sends, and file-reference
// resolution/download. Transient failures (429 and 5xx) are retried
// by the underlying transport.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eg-rek/bizarchive/internal/models"
)

// Default transport configuration constants
const (
	// DefaultAPIBase is the Bot API endpoint prefix.
	DefaultAPIBase = "https://api.telegram.org"
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultReadGrace is added on top of the long-poll window when
	// deriving the per-request deadline.
	DefaultReadGrace = 30 * time.Second
	// DefaultRetryAttempts is the total attempt count for a request.
	DefaultRetryAttempts = 3
	// DefaultRetryBackoff is the base delay between retry attempts.
	DefaultRetryBackoff = 1 * time.Second
)

// Opts holds configuration options for the Bot API client.
type Opts struct {
	Token      string
	APIBase    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Bot API client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithAPIBase overrides the API endpoint prefix (used in tests).
func WithAPIBase(base string) Option {
	return func(o *Opts) { o.APIBase = base }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// File is the resolved form of a file reference.
type File struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// Client talks to the Bot API over HTTP with built-in retry.
type Client struct {
	token   string
	apiBase string
	http    *http.Client
}

// NewClient creates a Bot API client. The token falls back to the
// BOT_TOKEN environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("BOT_TOKEN")
	}
	slog.Debug("Telegram client config loaded", "token_set", cfg.Token != "", "api_base_overridden", cfg.APIBase != "")
	if cfg.Token == "" {
		return nil, models.ErrMissingToken
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &retryTransport{
				base:     http.DefaultTransport,
				attempts: DefaultRetryAttempts,
				backoff:  DefaultRetryBackoff,
			},
		}
	}
	return &Client{token: cfg.Token, apiBase: strings.TrimRight(cfg.APIBase, "/"), http: httpClient}, nil
}

// apiResponse is the Bot API envelope shared by every method.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}

// call posts form-encoded parameters to a Bot API method and returns
// the raw result payload.
func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(method, resp.Body)
}

func decodeAPIResponse(method string, body io.Reader) (json.RawMessage, error) {
	var envelope apiResponse
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("%s rejected by API: %d %s", method, envelope.ErrorCode, envelope.Description)
	}
	return envelope.Result, nil
}

// GetUpdates long-polls for pending updates starting at offset. The
// request deadline is the poll window plus a read grace period.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]models.Update, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+DefaultReadGrace)
	defer cancel()

	params := url.Values{}
	if offset != 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}
	params.Set("timeout", strconv.FormatInt(int64(timeout/time.Second), 10))

	raw, err := c.call(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []models.Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends a plain text message to the given chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout+DefaultReadGrace)
	defer cancel()

	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	_, err := c.call(ctx, "sendMessage", params)
	return err
}

// SendDocument uploads a local file to the given chat as a document.
// The caption is truncated to the transport limit, counted in
// characters so multi-byte text stays valid.
func (c *Client) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	if utf8.RuneCountInString(caption) > models.MaxCaptionLength {
		caption = string([]rune(caption)[:models.MaxCaptionLength])
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write caption field: %w", err)
		}
	}
	part, err := w.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create document part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read document %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout+2*DefaultReadGrace)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("build sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sendDocument request failed: %w", err)
	}
	defer resp.Body.Close()
	_, err = decodeAPIResponse("sendDocument", resp.Body)
	return err
}

// GetFile resolves a file reference to its server-side path and size.
func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout+DefaultReadGrace)
	defer cancel()

	params := url.Values{}
	params.Set("file_id", fileID)
	raw, err := c.call(ctx, "getFile", params)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("decode file info: %w", err)
	}
	if f.FilePath == "" {
		return File{}, models.ErrMediaNotFound
	}
	return f, nil
}

// Download streams the content behind a resolved file path. The caller
// must close the returned reader.
func (c *Client) Download(ctx context.Context, filePath string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.token, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
