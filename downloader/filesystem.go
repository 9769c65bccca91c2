package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Filesystem caches downloaded bundles in a directory, one file per
// URL, with freshness judged by file modification time. Survives
// process restarts, which is what the import command wants.
type Filesystem struct {
	Dir string

	mutex sync.Mutex
}

func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Filesystem{Dir: dir}, nil
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {

	if !options.Cache {
		return HTTPGet(ctx, url, headers, options)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	path := filepath.Join(f.Dir, cacheKey(url))
	if fi, err := os.Stat(path); err == nil {
		if time.Since(fi.ModTime()) < options.CacheTTL {
			body, err := os.ReadFile(path)
			if err == nil {
				return body, nil
			}
			// Unreadable cache entry: fall through and refetch.
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if err := os.WriteFile(path, body, 0644); err != nil {
		return nil, fmt.Errorf("caching: %w", err)
	}

	return body, nil
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:]) + ".cache"
}
