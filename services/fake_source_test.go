package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gift-floors/scraper"
	"gift-floors/utils"
)

// fakeSource serves scripted catalog, model and page responses. Cursors are
// "p<N>" where N is the index of the next page.
type fakeSource struct {
	mu sync.Mutex

	collections []map[string]any
	catalogErrs []error

	models    map[string][]map[string]any
	modelErrs map[string][]error

	pages    map[string][][]map[string]any
	filtered map[string]map[string][]map[string]any
	// pageErrs is keyed by "<collection>#<page index>" or "<collection>@<sticker>".
	pageErrs map[string][]error

	// onModels runs before ListModels answers, outside the lock.
	onModels func(collectionID string)

	requests []scraper.PageRequest
	delay    time.Duration
	inflight int64
	peak     int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		models:    make(map[string][]map[string]any),
		modelErrs: make(map[string][]error),
		pages:     make(map[string][][]map[string]any),
		filtered:  make(map[string]map[string][]map[string]any),
		pageErrs:  make(map[string][]error),
	}
}

func (f *fakeSource) pop(errs map[string][]error, key string) error {
	q := errs[key]
	if len(q) == 0 {
		return nil
	}
	errs[key] = q[1:]
	return q[0]
}

func (f *fakeSource) ListCollections(ctx context.Context) ([]scraper.RawCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.catalogErrs) > 0 {
		err := f.catalogErrs[0]
		f.catalogErrs = f.catalogErrs[1:]
		return nil, err
	}
	return f.collections, nil
}

func (f *fakeSource) ListModels(ctx context.Context, collectionID string) ([]scraper.RawModel, error) {
	if f.onModels != nil {
		f.onModels(collectionID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pop(f.modelErrs, collectionID); err != nil {
		return nil, err
	}
	return f.models[collectionID], nil
}

func (f *fakeSource) ListPage(ctx context.Context, req scraper.PageRequest) (*scraper.Page, error) {
	n := atomic.AddInt64(&f.inflight, 1)
	defer atomic.AddInt64(&f.inflight, -1)
	for {
		p := atomic.LoadInt64(&f.peak)
		if n <= p || atomic.CompareAndSwapInt64(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	if req.ModelFilter != "" {
		if err := f.pop(f.pageErrs, req.CollectionID+"@"+req.ModelFilter); err != nil {
			return nil, err
		}
		items := f.filtered[req.CollectionID][req.ModelFilter]
		if req.Limit > 0 && len(items) > req.Limit {
			items = items[:req.Limit]
		}
		return &scraper.Page{Items: items}, nil
	}

	idx := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(req.Cursor, "p"))
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", req.Cursor)
		}
		idx = n
	}
	if err := f.pop(f.pageErrs, fmt.Sprintf("%s#%d", req.CollectionID, idx)); err != nil {
		return nil, err
	}

	pages := f.pages[req.CollectionID]
	if idx >= len(pages) {
		return &scraper.Page{}, nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = fmt.Sprintf("p%d", idx+1)
	}
	return &scraper.Page{Items: pages[idx], NextCursor: next}, nil
}

func (f *fakeSource) pageRequests(collectionID string) []scraper.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scraper.PageRequest
	for _, r := range f.requests {
		if r.CollectionID == collectionID {
			out = append(out, r)
		}
	}
	return out
}

// listing builds a TDLib-shaped resale record. Empty fields are omitted.
func listing(id, model, sticker string, price int) map[string]any {
	gift := map[string]any{}
	if id != "" {
		gift["id"] = id
	}
	if price != 0 {
		gift["resale_star_count"] = json.Number(strconv.Itoa(price))
	}
	m := map[string]any{}
	if model != "" {
		m["name"] = model
	}
	if sticker != "" {
		m["sticker"] = map[string]any{"id": json.Number(sticker)}
	}
	if len(m) > 0 {
		gift["model"] = m
	}
	return map[string]any{"gift": gift}
}

// model builds a TDLib-shaped model attribute record. rpm < 0 omits rarity.
func model(name, sticker string, rpm int) map[string]any {
	m := map[string]any{"name": name}
	if sticker != "" {
		m["sticker"] = map[string]any{"id": json.Number(sticker)}
	}
	if rpm >= 0 {
		m["rarity_per_mille"] = json.Number(strconv.Itoa(rpm))
	}
	return map[string]any{"model": m, "total_count": json.Number("1")}
}

func collection(id, title string, resale int) map[string]any {
	c := map[string]any{"gift": map[string]any{"id": id}, "title": title}
	if resale >= 0 {
		c["resale_count"] = json.Number(strconv.Itoa(resale))
	}
	return c
}

// sleepRecorder is an instant Retrier sleep that remembers every wait.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

func testRetry(rec *sleepRecorder) *utils.RetryConfig {
	return &utils.RetryConfig{
		MaxAttempts:      3,
		BaseDelay:        1500 * time.Millisecond,
		MaxDelay:         time.Minute,
		RateLimitPadding: time.Second,
		Logger:           utils.Discard(),
		Sleep:            rec.sleep,
	}
}

func transient(msg string) error {
	return &scraper.TransientError{Err: fmt.Errorf("%s", msg)}
}
