package strategy

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

const defaultLogLines = 500

// LogBuffer keeps the most recent log lines of one strategy instance so they
// can be served over the API. Lines are mirrored to the process logger.
type LogBuffer struct {
	mu     sync.Mutex
	prefix string
	lines  []string
	max    int
}

// NewLogBuffer creates a bounded capture buffer with the given log prefix.
func NewLogBuffer(prefix string) *LogBuffer {
	return &LogBuffer{prefix: prefix, max: defaultLogLines}
}

// Printf appends a formatted, timestamped line and echoes it to the process log.
func (b *LogBuffer) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("%s %s", b.prefix, msg)

	line := time.Now().UTC().Format("2006-01-02 15:04:05") + " " + msg
	b.mu.Lock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
	b.mu.Unlock()
}

// Tail returns the most recent limit lines joined by newlines.
func (b *LogBuffer) Tail(limit int) string {
	if limit <= 0 {
		limit = 100
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if len(b.lines) > limit {
		start = len(b.lines) - limit
	}
	return strings.Join(b.lines[start:], "\n")
}

// Len reports how many lines are currently buffered.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
