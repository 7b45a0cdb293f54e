package delta

import (
	"net/http"
	"sync"
	"time"
)

// TimeSync tracks the clock offset between this host and the exchange.
// Delta validates signatures against a short time window, so a skewed
// local clock causes hard-to-diagnose auth failures. The offset is
// derived from the Date header of every response we receive.
type TimeSync struct {
	offset   time.Duration // server - local
	lastSync time.Time
	mu       sync.RWMutex
}

// UpdateFromResponse refreshes the offset from an HTTP response Date header.
func (ts *TimeSync) UpdateFromResponse(res *http.Response) {
	if res == nil {
		return
	}
	dateHeader := res.Header.Get("Date")
	if dateHeader == "" {
		return
	}
	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return
	}

	ts.mu.Lock()
	ts.offset = serverTime.Sub(time.Now().Truncate(time.Second))
	ts.lastSync = time.Now()
	ts.mu.Unlock()
}

// Now returns the current unix time in seconds adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().Add(ts.offset).Unix()
}

// Offset returns the current offset.
func (ts *TimeSync) Offset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
