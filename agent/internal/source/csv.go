package source

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/types"
)

// CSV tails a CSV event log by re-reading it on each collection.
type CSV struct {
	id   string
	path string

	mu sync.Mutex
	// last is the newest timestamp returned so far and atLast the number of
	// rows carrying exactly that timestamp, so rows appended with an equal
	// timestamp are still picked up.
	last   time.Time
	atLast int
}

// NewCSV returns a CSV source reading path.
func NewCSV(id, path string) *CSV {
	return &CSV{id: id, path: path}
}

// ID implements Source.
func (c *CSV) ID() string { return c.id }

// Collect re-reads the file and returns rows newer than the previous
// collection, sorted by timestamp. Rows with an unparseable timestamp are
// dropped.
func (c *CSV) Collect(_ context.Context) ([]types.Event, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("source %q: open: %w", c.id, err)
	}
	defer f.Close()

	b, err := ingest.ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", c.id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		out  []types.Event
		seen int
	)
	for _, ev := range b.Events {
		switch ev.Timestamp.Compare(c.last) {
		case -1:
			continue
		case 0:
			seen++
			if seen <= c.atLast {
				continue
			}
		}
		out = append(out, ev)
	}
	if len(out) == 0 {
		return nil, nil
	}

	newest := out[len(out)-1].Timestamp
	if newest.Equal(c.last) {
		c.atLast += len(out)
		return out, nil
	}
	c.last = newest
	c.atLast = 0
	for i := len(out) - 1; i >= 0 && out[i].Timestamp.Equal(newest); i-- {
		c.atLast++
	}
	return out, nil
}

// Close implements Source.
func (c *CSV) Close() error { return nil }
