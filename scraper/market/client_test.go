package market

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gift-floors/scraper"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), nil).WithBaseURL(srv.URL)
}

func TestListPageSendsTDLibRequest(t *testing.T) {
	var got map[string]any
	var path, auth string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		io.WriteString(w, `{"@type":"giftsForResale","total_count":2,
			"gifts":[{"gift":{"id":"1","resale_star_count":100,"model":{"name":"Gold","sticker":{"id":5933629604416717361}}}}],
			"next_offset":"abc"}`)
	}).WithToken("secret")

	page, err := c.ListPage(context.Background(), scraper.PageRequest{
		CollectionID: "5170145012310081615",
		Order:        scraper.ByPrice,
		Cursor:       "prev",
		Limit:        200,
		ModelFilter:  "42",
	})
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}

	if path != "/searchGiftsForResale" {
		t.Errorf("path = %q", path)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got["gift_id"] != json.Number("5170145012310081615") {
		t.Errorf("gift_id = %v", got["gift_id"])
	}
	if got["offset"] != "prev" || got["limit"] != json.Number("200") {
		t.Errorf("offset/limit = %v/%v", got["offset"], got["limit"])
	}
	order := got["order"].(map[string]any)
	if order["@type"] != orderByPrice {
		t.Errorf("order = %v", order)
	}
	attrs := got["attributes"].([]any)
	if len(attrs) != 1 || attrs[0].(map[string]any)["sticker_id"] != json.Number("42") {
		t.Errorf("attributes = %v", attrs)
	}

	if page.NextCursor != "abc" || len(page.Items) != 1 {
		t.Fatalf("page = %+v", page)
	}
	sticker := page.Items[0]["gift"].(map[string]any)["model"].(map[string]any)["sticker"].(map[string]any)["id"]
	if sticker != json.Number("5933629604416717361") {
		t.Errorf("64-bit sticker id lost precision: %v", sticker)
	}
}

func TestListModelsUsesZeroLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Limit != 0 || len(req.Attributes) != 0 {
			t.Errorf("discovery request = %+v", req)
		}
		io.WriteString(w, `{"@type":"giftsForResale","gifts":[],"models":[
			{"model":{"name":"Gold","rarity_per_mille":20,"sticker":{"id":11}},"total_count":3}],"next_offset":""}`)
	})

	models, err := c.ListModels(context.Background(), "7")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("models = %v", models)
	}
}

func TestListCollections(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getAvailableGifts" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"@type":"availableGifts","gifts":[
			{"gift":{"id":7},"title":"Desk Calendar","resale_count":12},
			{"gift":{"id":8},"title":"Kissed Frog","resale_count":0}]}`)
	})

	cols, err := c.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(cols) != 2 || cols[0]["title"] != "Desk Calendar" {
		t.Errorf("collections = %v", cols)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    map[string]string
		body      string
		wantWait  time.Duration
		transient bool
	}{
		{name: "429 retry-after header", status: 429, header: map[string]string{"Retry-After": "5"}, body: `{}`, wantWait: 5 * time.Second},
		{name: "429 message", status: 429, body: `{"@type":"error","code":429,"message":"Too Many Requests: retry after 9"}`, wantWait: 9 * time.Second},
		{name: "flood wait object", status: 200, body: `{"@type":"error","code":420,"message":"FLOOD_WAIT_7"}`, wantWait: 7 * time.Second},
		{name: "429 bare", status: 429, body: ``, wantWait: defaultRateLimitWait},
		{name: "bad gateway", status: 502, body: `oops`, transient: true},
		{name: "timeout", status: 408, body: ``, transient: true},
		{name: "tdlib internal", status: 200, body: `{"@type":"error","code":500,"message":"Internal"}`, transient: true},
		{name: "bad request", status: 400, body: `{"@type":"error","code":400,"message":"GIFT_ID_INVALID"}`},
		{name: "forbidden", status: 403, body: ``},
		{name: "truncated", status: 200, body: `{"gifts":[`, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := c.ListPage(context.Background(), scraper.PageRequest{CollectionID: "1", Limit: 10})
			if err == nil {
				t.Fatal("expected error")
			}

			var rl *scraper.RateLimitedError
			var te *scraper.TransientError
			switch {
			case tt.wantWait > 0:
				if !errors.As(err, &rl) {
					t.Fatalf("expected RateLimitedError, got %T: %v", err, err)
				}
				if rl.RetryAfter() != tt.wantWait {
					t.Errorf("wait = %v; want %v", rl.RetryAfter(), tt.wantWait)
				}
			case tt.transient:
				if !errors.As(err, &te) {
					t.Fatalf("expected TransientError, got %T: %v", err, err)
				}
			default:
				if errors.As(err, &rl) || errors.As(err, &te) {
					t.Fatalf("expected fatal error, got %T: %v", err, err)
				}
			}
		})
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(&http.Client{Timeout: time.Second}, nil).WithBaseURL(url)
	_, err := c.ListCollections(context.Background())
	var te *scraper.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %T: %v", err, err)
	}
}

func TestInvalidGiftIDIsFatal(t *testing.T) {
	c := NewClient(nil, nil)
	_, err := c.ListPage(context.Background(), scraper.PageRequest{CollectionID: "not-a-number"})
	if err == nil || !strings.Contains(err.Error(), "invalid gift id") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("12"); d != 12*time.Second {
		t.Errorf("delta seconds = %v", d)
	}
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(future); d < 25*time.Second || d > 31*time.Second {
		t.Errorf("http date = %v", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Errorf("garbage = %v", d)
	}
}
