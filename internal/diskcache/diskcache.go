// Package diskcache is a versioned, size-bounded key/value store on a
// billy filesystem. Each entry holds a fixed number of values; values are
// written through an Editor and become visible atomically on Commit.
//
// At most one Editor may be outstanding per key. Edit returns nil instead of
// blocking when another edit for the key is in progress.
package diskcache

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

const (
	manifestName = "manifest.json"
	manifestTemp = "manifest.json.tmp"
	magic        = "thumbwall.diskcache"
	formatV1     = 1
	tempSuffix   = ".tmp"
)

var (
	// ErrClosed is returned by operations on a closed Cache.
	ErrClosed = errors.New("diskcache: cache is closed")
	// ErrInvalidKey is returned for keys outside [a-z0-9_-]{1,120}.
	ErrInvalidKey = errors.New("diskcache: invalid key")
	// ErrEditorClosed is returned when an Editor is used after Commit or Abort.
	ErrEditorClosed = errors.New("diskcache: editor already committed or aborted")
	// ErrIncompleteEdit is returned when committing a new entry without all values.
	ErrIncompleteEdit = errors.New("diskcache: new entry is missing values")

	keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,120}$`)
)

type manifest struct {
	Magic      string          `json:"magic"`
	Format     int             `json:"format"`
	Version    int             `json:"version"`
	ValueCount int             `json:"valueCount"`
	Entries    []manifestEntry `json:"entries"`
}

type manifestEntry struct {
	Key     string  `json:"key"`
	Lengths []int64 `json:"lengths"`
}

type entry struct {
	key      string
	lengths  []int64
	readable bool
	editor   *Editor
	elem     *list.Element // position in the LRU list while readable
}

func (e *entry) size() int64 {
	var total int64
	for _, n := range e.lengths {
		total += n
	}
	return total
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	fs         billy.Filesystem
	dir        string
	version    int
	valueCount int
	maxSize    int64
	size       int64
	entries    map[string]*entry
	lru        *list.List // front is most recently used
	closed     bool
}

// Open opens or creates the cache in dir. Opening with a version or value
// count different from the one recorded on disk discards all stored entries.
func Open(fs billy.Filesystem, dir string, version, valueCount int, maxSize int64) (*Cache, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem cannot be nil")
	}
	if valueCount <= 0 {
		return nil, fmt.Errorf("value count must be positive, got %d", valueCount)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("max size must be positive, got %d", maxSize)
	}
	if dir == "" {
		return nil, fmt.Errorf("cache directory cannot be empty")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %q: %w", dir, err)
	}

	c := &Cache{
		fs:         fs,
		dir:        dir,
		version:    version,
		valueCount: valueCount,
		maxSize:    maxSize,
		entries:    make(map[string]*entry),
		lru:        list.New(),
	}

	// a missing, unreadable, or stale manifest invalidates everything
	if m, err := c.readManifest(); err == nil && c.compatible(m) {
		c.load(m)
	} else if err := c.wipe(); err != nil {
		return nil, err
	}

	if err := c.removeOrphans(); err != nil {
		return nil, err
	}
	c.trim()
	if err := c.writeManifest(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a snapshot of the committed values for key, or nil when the key
// has no committed entry.
func (c *Cache) Get(key string) (*Snapshot, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	e, ok := c.entries[key]
	if !ok || !e.readable {
		return nil, nil
	}

	files := make([]billy.File, 0, c.valueCount)
	for i := 0; i < c.valueCount; i++ {
		f, err := c.fs.Open(c.cleanPath(key, i))
		if err != nil {
			for _, opened := range files {
				_ = opened.Close()
			}
			if errors.Is(err, os.ErrNotExist) {
				// the file vanished underneath us; forget the entry
				c.dropEntry(e)
				return nil, nil
			}
			return nil, fmt.Errorf("failed to open value %d of %q: %w", i, key, err)
		}
		files = append(files, f)
	}

	c.lru.MoveToFront(e.elem)
	lengths := append([]int64(nil), e.lengths...)
	return &Snapshot{key: key, files: files, lengths: lengths}, nil
}

// Edit returns an editor for key, or nil when another edit for key is
// outstanding.
func (c *Cache) Edit(key string) (*Editor, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, lengths: make([]int64, c.valueCount)}
		c.entries[key] = e
	}
	if e.editor != nil {
		return nil, nil
	}

	ed := &Editor{cache: c, entry: e, written: make([]bool, c.valueCount)}
	e.editor = ed
	return ed, nil
}

// Remove deletes the committed entry for key. Entries being edited are left
// alone and Remove reports false.
func (c *Cache) Remove(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}

	e, ok := c.entries[key]
	if !ok || e.editor != nil || !e.readable {
		return false, nil
	}
	if err := c.removeFiles(key); err != nil {
		return false, err
	}
	c.dropEntry(e)
	return true, nil
}

// Size returns the bytes held by committed entries.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxSize returns the configured ceiling.
func (c *Cache) MaxSize() int64 {
	return c.maxSize
}

// Version returns the version the cache was opened with.
func (c *Cache) Version() int {
	return c.version
}

// Len returns the number of committed entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Flush persists the entry bookkeeping.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.writeManifest()
}

// Close flushes and closes the cache. Outstanding editors are aborted.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	for _, e := range c.entries {
		if e.editor != nil {
			c.abortLocked(e.editor)
		}
	}
	c.closed = true
	return c.writeManifest()
}

// Delete closes the cache and removes everything in its directory.
func (c *Cache) Delete() error {
	if err := c.Close(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wipe()
}

func (c *Cache) compatible(m *manifest) bool {
	return m.Magic == magic && m.Format == formatV1 && m.Version == c.version && m.ValueCount == c.valueCount
}

func (c *Cache) load(m *manifest) {
	// manifest entries are stored least recently used first
	for _, me := range m.Entries {
		if validateKey(me.Key) != nil || len(me.Lengths) != c.valueCount {
			continue
		}
		if !c.filesMatch(me) {
			continue
		}
		e := &entry{key: me.Key, lengths: append([]int64(nil), me.Lengths...), readable: true}
		e.elem = c.lru.PushFront(e)
		c.entries[e.key] = e
		c.size += e.size()
	}
}

func (c *Cache) filesMatch(me manifestEntry) bool {
	for i, n := range me.Lengths {
		fi, err := c.fs.Stat(c.cleanPath(me.Key, i))
		if err != nil || fi.Size() != n {
			return false
		}
	}
	return true
}

// removeOrphans deletes files that no loaded entry references.
func (c *Cache) removeOrphans() error {
	infos, err := c.fs.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}
	for _, fi := range infos {
		name := fi.Name()
		if name == manifestName {
			continue
		}
		if c.referenced(name) {
			continue
		}
		if err := util.RemoveAll(c.fs, c.fs.Join(c.dir, name)); err != nil {
			return fmt.Errorf("failed to remove orphan %q: %w", name, err)
		}
	}
	return nil
}

func (c *Cache) referenced(name string) bool {
	key, idx, ok := strings.Cut(name, ".")
	if !ok {
		return false
	}
	e, exists := c.entries[key]
	if !exists || !e.readable {
		return false
	}
	i, err := strconv.Atoi(idx)
	return err == nil && i >= 0 && i < c.valueCount
}

func (c *Cache) wipe() error {
	infos, err := c.fs.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}
	for _, fi := range infos {
		if err := util.RemoveAll(c.fs, c.fs.Join(c.dir, fi.Name())); err != nil {
			return fmt.Errorf("failed to clear cache directory: %w", err)
		}
	}
	c.entries = make(map[string]*entry)
	c.lru.Init()
	c.size = 0
	return nil
}

// trim evicts least recently used entries until the cache fits its ceiling.
func (c *Cache) trim() {
	for elem := c.lru.Back(); c.size > c.maxSize && elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if e.editor == nil {
			_ = c.removeFiles(e.key)
			c.dropEntry(e)
		}
		elem = prev
	}
}

func (c *Cache) dropEntry(e *entry) {
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
	if e.readable {
		c.size -= e.size()
		e.readable = false
	}
	if e.editor == nil {
		delete(c.entries, e.key)
	}
}

func (c *Cache) removeFiles(key string) error {
	for i := 0; i < c.valueCount; i++ {
		if err := c.fs.Remove(c.cleanPath(key, i)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove value %d of %q: %w", i, key, err)
		}
	}
	return nil
}

func (c *Cache) readManifest() (*manifest, error) {
	data, err := util.ReadFile(c.fs, c.fs.Join(c.dir, manifestName))
	if err != nil {
		return nil, err
	}
	m := &manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

func (c *Cache) writeManifest() error {
	m := manifest{
		Magic:      magic,
		Format:     formatV1,
		Version:    c.version,
		ValueCount: c.valueCount,
		Entries:    make([]manifestEntry, 0, c.lru.Len()),
	}
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*entry)
		m.Entries = append(m.Entries, manifestEntry{Key: e.key, Lengths: e.lengths})
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	tmp := c.fs.Join(c.dir, manifestTemp)
	if err := util.WriteFile(c.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	final := c.fs.Join(c.dir, manifestName)
	if err := c.replace(tmp, final); err != nil {
		return fmt.Errorf("failed to install manifest: %w", err)
	}
	return nil
}

// replace renames from over to, removing to first where the filesystem
// refuses to overwrite.
func (c *Cache) replace(from, to string) error {
	if err := c.fs.Remove(to); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return c.fs.Rename(from, to)
}

func (c *Cache) cleanPath(key string, i int) string {
	return c.fs.Join(c.dir, key+"."+strconv.Itoa(i))
}

func (c *Cache) tempPath(key string, i int) string {
	return c.cleanPath(key, i) + tempSuffix
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Snapshot is a read handle on the committed values of one entry.
type Snapshot struct {
	key     string
	files   []billy.File
	lengths []int64
}

// Key returns the entry key.
func (s *Snapshot) Key() string { return s.key }

// Bytes reads value i. A file shorter than its recorded length is an error.
func (s *Snapshot) Bytes(i int) ([]byte, error) {
	data := make([]byte, s.lengths[i])
	if _, err := io.ReadFull(s.files[i], data); err != nil {
		return nil, fmt.Errorf("failed to read value %d of %q: %w", i, s.key, err)
	}
	return data, nil
}

// Close releases the underlying files.
func (s *Snapshot) Close() error {
	var first error
	for _, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
