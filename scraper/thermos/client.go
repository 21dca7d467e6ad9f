// Package thermos fetches per-model floor statistics from the thermos.gifts
// attributes API in a single request for many collections.
package thermos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gift-floors/scraper"
	"gift-floors/utils"
)

const (
	DefaultBaseURL = "https://proxy.thermos.gifts"
	SiteOrigin     = "https://thermos.gifts"
	attributesPath = "/api/v1/attributes"
	userAgent      = "Mozilla/5.0 (compatible; gift-floors/1.0)"
)

// DefaultCollections is the gift title list requested when none is configured.
var DefaultCollections = []string{
	"Plush Pepe", "Heart Locket", "Durov's Cap", "Precious Peach", "Heroic Helmet",
	"Nail Bracelet", "Loot Bag", "Astral Shard", "Mini Oscar", "Perfume Bottle",
	"Ion Gem", "Gem Signet", "Westside Sign", "Magic Potion", "Bonded Ring", "Scared Cat",
	"Genie Lamp", "Sharp Tongue", "Low Rider", "Swiss Watch", "Kissed Frog",
	"Electric Skull", "Neko Helmet", "Signet Ring", "Vintage Cigar", "Diamond Ring",
	"Toy Bear", "Voodoo Doll", "Mad Pumpkin", "Eternal Rose", "Cupid Charm", "Top Hat",
	"Love Potion", "Flying Broom", "Record Player", "Love Candle", "Sleigh Bell", "Crystal Ball",
	"Trapped Heart", "Skull Flower", "Snoop Cigar", "Hanging Star", "Sakura Flower",
	"Valentine Box", "Evil Eye", "Berry Box", "Eternal Candle", "Bunny Muffin",
	"Snow Mittens", "Spy Agaric", "Bow Tie", "Jelly Bunny", "Snow Globe", "Light Sword",
	"Witch Hat", "Hex Pot", "Easter Egg", "Star Notepad", "Joyful Bundle", "Lush Bouquet",
	"Jack-in-the-Box", "Restless Jar", "Swag Bag", "Spiced Wine", "Cookie Heart", "Tama Gadget",
	"Hypno Lollipop", "Winter Wreath", "Big Year", "Santa Hat", "Jingle Bells", "Ginger Cookie",
	"Holiday Drink", "Jester Hat", "Snoop Dogg", "Party Sparkler", "Candy Cane", "Homemade Cake",
	"Lol Pop", "Pet Snake", "Snake Box", "Xmas Stocking", "Lunar Snake", "Whip Cupcake",
	"B-Day Candle", "Desk Calendar",
}

// Transport performs one JSON POST and returns the response body.
type Transport interface {
	Post(ctx context.Context, url string, body []byte) ([]byte, error)
}

// Payload maps a gift title to its raw model records.
type Payload map[string][]scraper.RawModel

// Client requests model statistics from the attributes API.
type Client struct {
	transport Transport
	baseURL   string
	retry     *utils.RetryConfig
	logger    *utils.Logger
}

// NewClient creates a client over the given transport.
func NewClient(transport Transport, logger *utils.Logger) *Client {
	if logger == nil {
		logger = utils.Discard()
	}
	return &Client{
		transport: transport,
		baseURL:   DefaultBaseURL,
		logger:    logger,
		retry:     &utils.RetryConfig{MaxAttempts: 1, Logger: logger},
	}
}

// WithBaseURL sets a custom base URL for the client.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// WithRetry sets the retry policy applied to the attributes request.
func (c *Client) WithRetry(r *utils.RetryConfig) *Client {
	c.retry = r
	return c
}

// FetchAttributes requests model statistics for the given gift titles.
// Sections that are not objects are skipped.
func (c *Client) FetchAttributes(ctx context.Context, collections []string) (Payload, error) {
	body, err := json.Marshal(map[string][]string{"collections": collections})
	if err != nil {
		return nil, fmt.Errorf("thermos: encoding request: %w", err)
	}

	var raw []byte
	err = c.retry.Do(ctx, "thermos-attributes", func(ctx context.Context) error {
		var err error
		raw, err = c.transport.Post(ctx, c.baseURL+attributesPath, body)
		return err
	})
	if err != nil {
		return nil, err
	}

	var sections map[string]json.RawMessage
	if err := decode(raw, &sections); err != nil {
		return nil, fmt.Errorf("thermos: decoding response: %w", err)
	}

	payload := make(Payload, len(sections))
	for gift, section := range sections {
		var s struct {
			Models []map[string]any `json:"models"`
		}
		if err := decode(section, &s); err != nil {
			c.logger.Debug("[thermos] Skipping section %q: %v", gift, err)
			continue
		}
		payload[gift] = s.Models
	}
	c.logger.Info("[thermos] Received %d gift sections for %d requested titles", len(payload), len(collections))
	return payload, nil
}

func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// HTTPTransport posts with a plain HTTP client and browser-like headers.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns an HTTPTransport with the given timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("thermos: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", SiteOrigin)
	req.Header.Set("Referer", SiteOrigin+"/")
	req.Header.Set("User-Agent", userAgent)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &scraper.TransientError{Err: fmt.Errorf("thermos: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &scraper.TransientError{Err: fmt.Errorf("thermos: reading body: %w", err)}
	}
	if err := checkStatus(resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return nil, err
	}
	return raw, nil
}

// checkStatus maps an HTTP status onto the scraper error taxonomy.
func checkStatus(status int, retryAfter string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		wait := time.Second
		if n, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && n > 0 {
			wait = time.Duration(n) * time.Second
		}
		return &scraper.RateLimitedError{Wait: wait, Msg: "thermos: HTTP 429"}
	case status >= 500 || status == http.StatusRequestTimeout:
		return &scraper.TransientError{Err: fmt.Errorf("thermos: unexpected status: %d", status)}
	default:
		return fmt.Errorf("thermos: unexpected status: %d", status)
	}
}
