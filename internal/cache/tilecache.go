package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const tileFileExt = ".tile"

// TileCache is a disk cache for raw tile bytes keyed by request URL.
// Files live at {baseDir}/{hash[:2]}/{hash}.tile so the index can be rebuilt
// from a directory walk after a restart.
type TileCache struct {
	baseDir  string
	maxSize  int64
	ttl      time.Duration
	mu       sync.Mutex
	currSize int64
	index    map[string]*CacheEntry // hash -> entry
	now      func() time.Time
	logger   *slog.Logger
}

// CacheEntry represents a cached tile
type CacheEntry struct {
	Hash       string
	FilePath   string
	Size       int64
	AccessTime time.Time
	CreateTime time.Time
}

// NewTileCache opens (or creates) a tile cache rooted at baseDir
func NewTileCache(baseDir string, cfg Config, logger *slog.Logger) (*TileCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &TileCache{
		baseDir: baseDir,
		maxSize: int64(cfg.MaxSizeMB) * 1024 * 1024,
		ttl:     cfg.TTL(),
		index:   make(map[string]*CacheEntry),
		now:     time.Now,
		logger:  logger.With("component", "tilecache"),
	}

	if err := c.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}
	c.logger.Debug("tile cache ready", "dir", baseDir, "entries", len(c.index), "bytes", c.currSize)
	return c, nil
}

// Get returns cached bytes for key if present and not expired
func (c *TileCache) Get(key string) ([]byte, bool) {
	hash := hashKey(key)

	c.mu.Lock()
	entry, exists := c.index[hash]
	if !exists {
		c.mu.Unlock()
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.CreateTime) > c.ttl {
		c.removeLocked(entry)
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Unlock()

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		c.mu.Lock()
		c.removeLocked(entry)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	entry.AccessTime = c.now()
	c.mu.Unlock()
	return data, true
}

// Set stores data under key, evicting least recently used entries when the
// cache grows past its limit
func (c *TileCache) Set(key string, data []byte) error {
	hash := hashKey(key)
	filePath := filepath.Join(c.baseDir, hash[:2], hash+tileFileExt)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Write to temp file first, then rename
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, exists := c.index[hash]; exists {
		c.currSize -= old.Size
	}
	now := c.now()
	c.index[hash] = &CacheEntry{
		Hash:       hash,
		FilePath:   filePath,
		Size:       int64(len(data)),
		AccessTime: now,
		CreateTime: now,
	}
	c.currSize += int64(len(data))

	if c.maxSize > 0 && c.currSize > c.maxSize {
		c.evictLocked()
	}
	return nil
}

// Stats returns cache statistics
func (c *TileCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index), c.currSize, c.maxSize
}

// Clear removes all cached tiles
func (c *TileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.index {
		os.Remove(entry.FilePath)
	}
	c.index = make(map[string]*CacheEntry)
	c.currSize = 0
	return nil
}

// Dir returns the base directory of the cache
func (c *TileCache) Dir() string {
	return c.baseDir
}

// evictLocked removes least recently used entries until the cache is at 80%
// of its limit
func (c *TileCache) evictLocked() {
	entries := make([]*CacheEntry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	target := c.maxSize * 8 / 10
	evicted := 0
	for _, e := range entries {
		if c.currSize <= target {
			break
		}
		c.removeLocked(e)
		evicted++
	}
	c.logger.Debug("evicted tiles", "count", evicted, "bytes", c.currSize)
}

func (c *TileCache) removeLocked(e *CacheEntry) {
	if _, exists := c.index[e.Hash]; !exists {
		return
	}
	os.Remove(e.FilePath)
	delete(c.index, e.Hash)
	c.currSize -= e.Size
}

// loadIndex rebuilds the in-memory index by scanning the cache directory
func (c *TileCache) loadIndex() error {
	return filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != tileFileExt {
			return nil
		}
		hash := strings.TrimSuffix(filepath.Base(path), tileFileExt)
		c.index[hash] = &CacheEntry{
			Hash:       hash,
			FilePath:   path,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		c.currSize += info.Size()
		return nil
	})
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
