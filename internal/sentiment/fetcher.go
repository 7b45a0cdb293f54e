// Package sentiment fetches the crypto Fear & Greed index with a TTL cache
// in front of the upstream API.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"delta-core/pkg/cache"
)

// DefaultEndpoint is the alternative.me Fear & Greed API (no key required).
const DefaultEndpoint = "https://api.alternative.me/fng/?limit=1"

const cacheKey = "sentiment:fear-greed"

// Index is one Fear & Greed reading.
type Index struct {
	Value          int       `json:"value"`
	Classification string    `json:"value_classification"`
	Timestamp      time.Time `json:"timestamp"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Fetcher reads the index, serving cached values inside the TTL.
type Fetcher struct {
	endpoint   string
	ttl        time.Duration
	httpClient *http.Client
	cache      *cache.ShardedTTLCache
}

// NewFetcher creates a fetcher with the given cache TTL.
func NewFetcher(c *cache.ShardedTTLCache, ttl time.Duration) *Fetcher {
	if c == nil {
		c = cache.NewShardedTTLCache()
	}
	return &Fetcher{
		endpoint:   DefaultEndpoint,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      c,
	}
}

// WithEndpoint overrides the upstream URL; used by tests.
func (f *Fetcher) WithEndpoint(url string) *Fetcher {
	f.endpoint = url
	return f
}

// Get returns the current index, from cache when fresh.
func (f *Fetcher) Get(ctx context.Context) (*Index, error) {
	if v, ok := f.cache.Get(cacheKey); ok {
		if idx, ok := v.(*Index); ok {
			return idx, nil
		}
	}

	idx, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	f.cache.Set(cacheKey, idx, f.ttl)
	return idx, nil
}

// upstream response shape: {"data":[{"value":"54","value_classification":"Neutral","timestamp":"1724457600"}]}
type upstreamResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

func (f *Fetcher) fetch(ctx context.Context) (*Index, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch fear & greed index: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fear & greed upstream returned status %d", res.StatusCode)
	}

	var payload upstreamResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode fear & greed response: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("fear & greed response carried no data")
	}

	row := payload.Data[0]
	value, err := strconv.Atoi(row.Value)
	if err != nil {
		return nil, fmt.Errorf("parse index value %q: %w", row.Value, err)
	}

	idx := &Index{
		Value:          value,
		Classification: row.Classification,
		FetchedAt:      time.Now().UTC(),
	}
	if ts, err := strconv.ParseInt(row.Timestamp, 10, 64); err == nil {
		idx.Timestamp = time.Unix(ts, 0).UTC()
	}
	return idx, nil
}
