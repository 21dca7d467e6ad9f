// Package market talks to a JSON gateway in front of the Telegram gift resale
// market. Requests and responses mirror the TDLib objects
// (getAvailableGifts, searchGiftsForResale) one to one.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gift-floors/scraper"
	"gift-floors/utils"
)

const (
	// DefaultBaseURL is where the gateway listens when run next to the scanner.
	DefaultBaseURL = "http://127.0.0.1:8088/tdlib"

	orderByPrice      = "giftForResaleOrderPrice"
	orderByChangeDate = "giftForResaleOrderChangeDate"
	attributeModel    = "upgradedGiftAttributeIdModel"

	// defaultRateLimitWait is used when the server says 429 without a duration.
	defaultRateLimitWait = time.Second
)

var waitRegexp = regexp.MustCompile(`(?i)(?:FLOOD_WAIT_|retry after\s+)(\d+)`)

// Client is an HTTP client for the resale gateway. It implements scraper.Source.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *utils.Logger
}

var _ scraper.Source = (*Client)(nil)

// NewClient creates a new gateway client.
func NewClient(httpClient *http.Client, logger *utils.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = utils.Discard()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    DefaultBaseURL,
		logger:     logger,
	}
}

// WithBaseURL sets a custom base URL for the client.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// WithToken sends token as a bearer credential on every request.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

type typed struct {
	Type string `json:"@type"`
}

type modelAttribute struct {
	Type      string      `json:"@type"`
	StickerID json.Number `json:"sticker_id"`
}

type searchRequest struct {
	GiftID     json.Number      `json:"gift_id"`
	Order      typed            `json:"order"`
	Attributes []modelAttribute `json:"attributes"`
	Offset     string           `json:"offset"`
	Limit      int              `json:"limit"`
}

// envelope covers availableGifts, giftsForResale and error objects.
type envelope struct {
	Type       string           `json:"@type"`
	Code       int              `json:"code"`
	Message    string           `json:"message"`
	Gifts      []map[string]any `json:"gifts"`
	Models     []map[string]any `json:"models"`
	NextOffset string           `json:"next_offset"`
}

// ListCollections returns every gift type that can be resold.
func (c *Client) ListCollections(ctx context.Context) ([]scraper.RawCollection, error) {
	env, err := c.post(ctx, "getAvailableGifts", struct{}{})
	if err != nil {
		return nil, err
	}
	return env.Gifts, nil
}

// ListModels returns the model attributes of a gift. A zero-limit search
// returns the attribute counters without any listings.
func (c *Client) ListModels(ctx context.Context, collectionID string) ([]scraper.RawModel, error) {
	body, err := buildSearch(scraper.PageRequest{CollectionID: collectionID, Order: scraper.ByPrice})
	if err != nil {
		return nil, err
	}
	env, err := c.post(ctx, "searchGiftsForResale", body)
	if err != nil {
		return nil, err
	}
	return env.Models, nil
}

// ListPage fetches one page of resale listings.
func (c *Client) ListPage(ctx context.Context, req scraper.PageRequest) (*scraper.Page, error) {
	body, err := buildSearch(req)
	if err != nil {
		return nil, err
	}
	env, err := c.post(ctx, "searchGiftsForResale", body)
	if err != nil {
		return nil, err
	}
	return &scraper.Page{Items: env.Gifts, NextCursor: env.NextOffset}, nil
}

func buildSearch(req scraper.PageRequest) (*searchRequest, error) {
	if !isDigits(req.CollectionID) {
		return nil, fmt.Errorf("market: invalid gift id %q", req.CollectionID)
	}
	order := orderByPrice
	if req.Order == scraper.ByRecency {
		order = orderByChangeDate
	}
	sr := &searchRequest{
		GiftID:     json.Number(req.CollectionID),
		Order:      typed{Type: order},
		Attributes: []modelAttribute{},
		Offset:     req.Cursor,
		Limit:      req.Limit,
	}
	if req.ModelFilter != "" {
		if !isDigits(req.ModelFilter) {
			return nil, fmt.Errorf("market: invalid sticker id %q", req.ModelFilter)
		}
		sr.Attributes = append(sr.Attributes, modelAttribute{
			Type:      attributeModel,
			StickerID: json.Number(req.ModelFilter),
		})
	}
	return sr, nil
}

func (c *Client) post(ctx context.Context, method string, payload any) (*envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("market: encoding %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("market: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("[market] POST %s %s", method, b)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &scraper.TransientError{Err: fmt.Errorf("market: %s: %w", method, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &scraper.TransientError{Err: fmt.Errorf("market: %s: reading body: %w", method, err)}
	}

	var env envelope
	decodeErr := decode(raw, &env)

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		if wait == 0 {
			wait = waitFromMessage(env.Message)
		}
		return nil, rateLimited(wait, fmt.Sprintf("%s: HTTP 429", method))
	}
	if env.Type == "error" {
		return nil, classifyError(method, env.Code, env.Message)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout {
		return nil, &scraper.TransientError{Err: fmt.Errorf("market: %s: unexpected status: %d", method, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market: %s: unexpected status: %d", method, resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, &scraper.TransientError{Err: fmt.Errorf("market: %s: decoding response: %w", method, decodeErr)}
	}
	return &env, nil
}

func decode(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// classifyError maps a TDLib error object onto the scraper error taxonomy.
func classifyError(method string, code int, msg string) error {
	if wait := waitFromMessage(msg); wait > 0 || code == http.StatusTooManyRequests {
		return rateLimited(wait, fmt.Sprintf("%s: %s", method, msg))
	}
	err := fmt.Errorf("market: %s: error %d: %s", method, code, msg)
	if code >= 500 {
		return &scraper.TransientError{Err: err}
	}
	return err
}

func rateLimited(wait time.Duration, msg string) error {
	if wait <= 0 {
		wait = defaultRateLimitWait
	}
	return &scraper.RateLimitedError{Wait: wait, Msg: msg}
}

func waitFromMessage(msg string) time.Duration {
	m := waitRegexp.FindStringSubmatch(msg)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
