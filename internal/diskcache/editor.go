package diskcache

import (
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"
)

// Editor is the write handle for one entry. Exactly one of Commit or Abort
// takes effect; later calls return ErrEditorClosed.
type Editor struct {
	cache   *Cache
	entry   *entry
	written []bool
	writers []*valueWriter
	done    bool
}

// Key returns the entry key.
func (e *Editor) Key() string { return e.entry.key }

// NewWriter returns a writer for value i. The data becomes visible to Get
// only after Commit.
func (e *Editor) NewWriter(i int) (io.WriteCloser, error) {
	c := e.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.done {
		return nil, ErrEditorClosed
	}
	if i < 0 || i >= c.valueCount {
		return nil, fmt.Errorf("value index %d out of range [0,%d)", i, c.valueCount)
	}

	f, err := c.fs.OpenFile(c.tempPath(e.entry.key, i), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create value %d of %q: %w", i, e.entry.key, err)
	}
	w := &valueWriter{File: f}
	e.written[i] = true
	e.writers = append(e.writers, w)
	return w, nil
}

// Commit publishes the written values. Values that were not rewritten keep
// their previous contents; a brand new entry must write every value.
func (e *Editor) Commit() error {
	c := e.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.done {
		return ErrEditorClosed
	}
	if c.closed {
		c.abortLocked(e)
		return ErrClosed
	}
	if !e.entry.readable {
		for i, ok := range e.written {
			if !ok {
				c.abortLocked(e)
				return fmt.Errorf("%w: value %d of %q", ErrIncompleteEdit, i, e.entry.key)
			}
		}
	}

	e.closeWriters()

	lengths := append([]int64(nil), e.entry.lengths...)
	for i, ok := range e.written {
		if !ok {
			continue
		}
		tmp, clean := c.tempPath(e.entry.key, i), c.cleanPath(e.entry.key, i)
		if err := c.replace(tmp, clean); err != nil {
			c.abortLocked(e)
			return fmt.Errorf("failed to commit value %d of %q: %w", i, e.entry.key, err)
		}
		fi, err := c.fs.Stat(clean)
		if err != nil {
			c.abortLocked(e)
			return fmt.Errorf("failed to stat value %d of %q: %w", i, e.entry.key, err)
		}
		lengths[i] = fi.Size()
	}

	ent := e.entry
	if ent.readable {
		c.size -= ent.size()
	}
	ent.lengths = lengths
	ent.readable = true
	ent.editor = nil
	c.size += ent.size()
	if ent.elem == nil {
		ent.elem = c.lru.PushFront(ent)
	} else {
		c.lru.MoveToFront(ent.elem)
	}
	e.done = true

	c.trim()
	return nil
}

// Abort discards everything written through this editor.
func (e *Editor) Abort() error {
	c := e.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.done {
		return ErrEditorClosed
	}
	c.abortLocked(e)
	return nil
}

func (e *Editor) closeWriters() {
	for _, w := range e.writers {
		_ = w.Close()
	}
	e.writers = nil
}

// abortLocked must be called with c.mu held.
func (c *Cache) abortLocked(e *Editor) {
	if e.done {
		return
	}
	e.closeWriters()
	for i, ok := range e.written {
		if ok {
			_ = c.fs.Remove(c.tempPath(e.entry.key, i))
		}
	}
	e.done = true
	e.entry.editor = nil
	if !e.entry.readable {
		delete(c.entries, e.entry.key)
	}
}

// valueWriter tolerates a second Close from the editor.
type valueWriter struct {
	billy.File
	closed bool
}

func (w *valueWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.File.Close()
}
