package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	alexerrors "github.com/desduvauchelle/tamias-sub001/internal/shared/errors"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

const (
	streamScannerInitialBuffer = 64 * 1024
	streamScannerMaxBuffer     = 512 * 1024
	maxErrorBodyBytes          = 64 * 1024
	defaultRequestTimeout      = 5 * time.Minute
)

func newStreamScanner(reader io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, streamScannerInitialBuffer), streamScannerMaxBuffer)
	return scanner
}

// baseClient holds what every HTTP provider client shares.
type baseClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	headers    map[string]string
}

func newBaseClient(model string, cfg Config, defaultBaseURL string, logger logging.Logger) baseClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return baseClient{
		model:      model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logging.OrNop(logger),
		headers:    cfg.Headers,
	}
}

// doPost sends a JSON POST. headers are applied after the defaults so
// provider-specific auth can override Authorization. Caller closes the body.
func (c *baseClient) doPost(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.logger.Debug("POST %s model=%s auth=%s", endpoint, c.model, logging.SanitizeAPIKey(c.apiKey))
	return c.httpClient.Do(req)
}

// checkResponse turns a non-2xx response into a classified error and closes
// the body.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	err := alexerrors.FromHTTPStatus(resp.StatusCode, string(body))
	var transient *alexerrors.TransientError
	if errors.As(err, &transient) {
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
			transient.RetryAfter = secs
		}
	}
	return err
}

// wrapRequestError marks transport failures as transient unless the caller
// cancelled.
func wrapRequestError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return alexerrors.NewTransientError(err, fmt.Sprintf("request failed: %v", err))
}

func dataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// sseData extracts the payload of a `data:` line; ok is false for any other
// line.
func sseData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	return payload, payload != ""
}
