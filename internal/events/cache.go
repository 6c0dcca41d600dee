package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/KingstonPolyAC/PolyField/internal/log"
)

// Cache holds results that could not be posted, mirrored to a JSON file so
// they survive a restart. An empty path keeps the cache in memory.
type Cache struct {
	path string

	mu      sync.Mutex
	results []ResultPayload
}

// LoadCache reads path if it exists. A corrupt file is logged and ignored.
func LoadCache(path string) *Cache {
	c := &Cache{path: path}
	if path == "" {
		return c
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Logger.Warn("error reading result cache file", log.String("path", path), log.ErrorField(err))
		}
		return c
	}
	if err := json.Unmarshal(data, &c.results); err != nil {
		log.Logger.Warn("error unmarshaling result cache", log.String("path", path), log.ErrorField(err))
		c.results = nil
	}
	return c
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// Results returns a copy of the cached results.
func (c *Cache) Results() []ResultPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ResultPayload(nil), c.results...)
}

func (c *Cache) Add(p ResultPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, p)
	return c.saveLocked()
}

// Drain offers each cached result to send and keeps the ones it rejects.
func (c *Cache) Drain(send func(ResultPayload) bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kept []ResultPayload
	for _, p := range c.results {
		if !send(p) {
			kept = append(kept, p)
		}
	}
	sent := len(c.results) - len(kept)
	c.results = kept
	return sent, c.saveLocked()
}

func (c *Cache) saveLocked() error {
	if c.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(c.results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result cache: %w", err)
	}
	return nil
}
