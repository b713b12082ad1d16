package device

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Bump when Entry changes shape; older files are treated as misses.
const cacheSchemaVersion uint16 = 1

// Digest keys the cache.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// KeyOf digests serialized IR together with the target CPU.
func KeyOf(llvmIR, cpu string) Digest {
	h := sha256.New()
	h.Write([]byte(cpu))
	h.Write([]byte{0})
	h.Write([]byte(llvmIR))
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Cache stores compiled PTX on disk, one msgpack file per key.
// Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// Entry is one cached compilation.
type Entry struct {
	Schema  uint16
	Triple  string
	CPU     string
	Kernel  string
	PTX     string
	Created int64 // unix seconds
}

// OpenCache opens a cache rooted at dir. An empty dir selects
// $XDG_CACHE_HOME/cilgpu, falling back to ~/.cache/cilgpu.
func OpenCache(dir string) (*Cache, error) {
	if dir == "" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			base = filepath.Join(home, ".cache")
		}
		dir = filepath.Join(base, "cilgpu")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// Dir is the cache root.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) pathFor(key Digest) string {
	return filepath.Join(c.dir, "ptx", key.String()+".mp")
}

// Put writes e under key, replacing any previous entry atomically.
func (c *Cache) Put(key Digest, e *Entry) (err error) {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()

	stored := *e
	stored.Schema = cacheSchemaVersion
	if stored.Created == 0 {
		stored.Created = time.Now().Unix()
	}
	if err := msgpack.NewEncoder(f).Encode(&stored); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads the entry under key. A missing file or an entry written by
// another schema is a miss.
func (c *Cache) Get(key Digest, out *Entry) (found bool, err error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	var e Entry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return false, err
	}
	if e.Schema != cacheSchemaVersion {
		return false, nil
	}
	*out = e
	return true, nil
}

// DropAll removes every cached entry.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	return os.RemoveAll(old)
}
