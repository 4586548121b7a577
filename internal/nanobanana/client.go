package nanobanana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const drawPath = "/v1/draw/nano-banana"

// Options configures the Nano Banana API client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
	// Timeout bounds the whole call including streamed body reads. Zero
	// means no timeout: a hung connection stalls only its own job.
	Timeout time.Duration
}

// Client performs HTTP calls to the generation and credits endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Response is the transport outcome of one submission, decided once at the
// transport boundary: either a fully decoded document or a byte stream to be
// fed through a StreamDecoder. Exactly one of the two fields is set.
type Response struct {
	Document *Event
	Stream   io.ReadCloser
}

// Close releases the underlying stream, if any.
func (r *Response) Close() error {
	if r != nil && r.Stream != nil {
		return r.Stream.Close()
	}
	return nil
}

// NewClient constructs a client. The base URL is normalized by stripping any
// trailing slash.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("nanobanana: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasKey reports whether the client carries credentials.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

// Submit posts one generation request. The caller owns the returned Response
// and must Close it when it carries a stream.
func (c *Client) Submit(ctx context.Context, req Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("nanobanana: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+drawPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, &TransportError{StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		defer resp.Body.Close()
		var doc Event
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, fmt.Errorf("nanobanana: decode response: %w", err)
		}
		return &Response{Document: &doc}, nil
	}
	c.logger.Debug().Str("content_type", contentType).Msg("nanobanana: streaming response")
	return &Response{Stream: resp.Body}, nil
}

type creditsResponse struct {
	Code int `json:"code"`
	Data struct {
		Credits *float64 `json:"credits"`
	} `json:"data"`
	Message string `json:"message"`
}

// Credits fetches the remaining balance for the configured key.
func (c *Client) Credits(ctx context.Context) (float64, error) {
	if c.apiKey == "" {
		return 0, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/client/common/getCredits?apikey=" + url.QueryEscape(c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, &TransportError{StatusCode: resp.StatusCode}
	}
	var out creditsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("nanobanana: decode credits: %w", err)
	}
	if out.Code != 0 || out.Data.Credits == nil {
		if out.Message != "" {
			return 0, fmt.Errorf("nanobanana: credits error: %s (code %d)", out.Message, out.Code)
		}
		return 0, fmt.Errorf("nanobanana: credits unavailable (code %d)", out.Code)
	}
	return *out.Data.Credits, nil
}
