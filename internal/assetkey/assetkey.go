// internal/assetkey/assetkey.go
package assetkey

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of path→key results a Mapper remembers.
const DefaultCacheSize = 4096

// MakeAssetKey derives the remote asset key for path relative to basePath.
// An empty basePath means the current working directory.
func MakeAssetKey(path, basePath string) string {
	return EncodeURI(RelativePath(path, basePath))
}

// RelativePath returns path relative to basePath with forward slashes.
func RelativePath(path, basePath string) string {
	base := resolve(basePath)
	target := resolve(path)

	rel, err := filepath.Rel(base, target)
	if err != nil {
		// Different volumes; keep the target as is.
		rel = target
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), `\`, "/")
}

func resolve(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" {
		p = "."
	}
	abs, err := filepath.Abs(filepath.FromSlash(p))
	if err != nil {
		return filepath.Clean(filepath.FromSlash(p))
	}
	return abs
}

// EncodeURI percent-encodes s the way a browser encodes a full URI: reserved
// characters and unreserved marks are kept, everything else is escaped byte by byte.
func EncodeURI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keepInURI(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func keepInURI(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'();/?:@&=+$,#", c) >= 0
}

// Mapper binds a base path and memoises keys for paths seen repeatedly during a watch.
type Mapper struct {
	base  string
	cache *lru.Cache[string, string]
}

func NewMapper(basePath string, cacheSize int) (*Mapper, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating key cache: %w", err)
	}

	base := basePath
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting current directory: %w", err)
		}
		base = wd
	}

	return &Mapper{base: resolve(base), cache: cache}, nil
}

// Base returns the absolute base path keys are relative to.
func (m *Mapper) Base() string {
	return m.base
}

func (m *Mapper) Key(path string) string {
	if key, ok := m.cache.Get(path); ok {
		return key
	}
	key := MakeAssetKey(path, m.base)
	m.cache.Add(path, key)
	return key
}
