package photowall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/muandane/special-stack/thumbwall/internal/cache"
	"github.com/muandane/special-stack/thumbwall/internal/decode"
	"github.com/muandane/special-stack/thumbwall/internal/diskcache"
	"github.com/muandane/special-stack/thumbwall/internal/download"
	"github.com/muandane/special-stack/thumbwall/internal/keys"
	"golang.org/x/sync/errgroup"
)

// Options wires a Controller. Memory and Downloader are required; a nil
// Store disables the disk tier.
type Options struct {
	Memory     *cache.Memory[image.Image]
	Store      Store
	Downloader download.Downloader
	Decode     decode.Func
	Keys       *keys.Deriver
	// Workers is the number of goroutines running tasks.
	Workers int
	Logger  *slog.Logger
	// Metrics receives the pipeline counters. A private set is used when nil.
	Metrics *metrics.Set
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Memory       cache.Stats `json:"memory"`
	PendingTasks int         `json:"pending_tasks"`
	QueuedTasks  int         `json:"queued_tasks"`
	RecentKeys   []string    `json:"recent_keys"`
	BoundSlots   int         `json:"bound_slots"`
	DiskEnabled  bool        `json:"disk_enabled"`
}

// Controller answers thumbnail requests from memory, then disk, then network.
//
// RequestImage, RequestImageFor, Release, CancelAllTasks, Pending and
// Snapshot must run on the controller loop: either from a result callback
// or inside a function passed to Post or Call. Flush, Stats and Close may be
// called from any goroutine.
type Controller struct {
	memory     *cache.Memory[image.Image]
	store      Store
	downloader download.Downloader
	decode     decode.Func
	keys       *keys.Deriver
	logger     *slog.Logger
	metrics    *pipelineMetrics
	metricSet  *metrics.Set

	loop     *Loop
	registry *Registry
	bindings map[string]string
	nextID   uint64

	queue   *taskQueue
	workers errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(opts Options) (*Controller, error) {
	if opts.Memory == nil {
		return nil, errors.New("memory cache is required")
	}
	if opts.Downloader == nil {
		return nil, errors.New("downloader is required")
	}
	if opts.Decode == nil {
		opts.Decode = decode.Image
	}
	if opts.Keys == nil {
		opts.Keys = keys.New()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}
	if opts.Keys.Degraded() {
		opts.Logger.Warn("digest unavailable, falling back to string hash keys")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		memory:     opts.Memory,
		store:      opts.Store,
		downloader: opts.Downloader,
		decode:     opts.Decode,
		keys:       opts.Keys,
		logger:     opts.Logger,
		metrics:    newPipelineMetrics(opts.Metrics),
		metricSet:  opts.Metrics,
		loop:       NewLoop(),
		registry:   NewRegistry(),
		bindings:   make(map[string]string),
		queue:      newTaskQueue(),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		c.workers.Go(func() error {
			c.work()
			return nil
		})
	}
	return c, nil
}

// Post runs fn on the controller loop.
func (c *Controller) Post(fn func()) bool {
	return c.loop.Post(fn)
}

// Call runs fn on the controller loop and waits for it. It must not be used
// from the loop.
func (c *Controller) Call(fn func()) bool {
	return c.loop.Call(fn)
}

// Metrics returns the set the pipeline counters are registered in.
func (c *Controller) Metrics() *metrics.Set {
	return c.metricSet
}

// Key derives the cache key for url. It is safe from any goroutine.
func (c *Controller) Key(url string) string {
	return c.keys.Derive(url)
}

// RequestImage asks for the image at url without binding it to a slot. The
// callback always fires, with nil on failure.
func (c *Controller) RequestImage(url string, onResult func(image.Image)) *Task {
	return c.RequestImageFor("", url, onResult)
}

// RequestImageFor asks for the image at url on behalf of slot. A memory hit
// invokes onResult before returning, creates no task and returns nil.
// Otherwise the started task is returned. Its result is delivered only if
// slot is still bound to the same key when the task completes.
func (c *Controller) RequestImageFor(slot, url string, onResult func(image.Image)) *Task {
	key := c.keys.Derive(url)
	if slot != "" {
		c.bindings[slot] = key
	}

	if img, ok := c.memory.Get(key); ok {
		c.metrics.memoryHits.Inc()
		onResult(img)
		return nil
	}
	c.metrics.memoryMisses.Inc()

	c.nextID++
	t := newTask(c.ctx, c.nextID, slot, key, url, onResult)
	c.registry.Add(t)
	c.metrics.tasksCreated.Inc()
	c.logger.Debug("task started", "id", t.id, "key", key, "url", url, "slot", slot)

	c.queue.push(t)
	return t
}

// Release unbinds slot. Results still in flight for it are discarded.
func (c *Controller) Release(slot string) {
	delete(c.bindings, slot)
}

// CancelAllTasks cancels every registered task and empties the registry.
// Cancelled tasks never deliver. It returns how many tasks were cancelled.
func (c *Controller) CancelAllTasks() int {
	n := 0
	for _, t := range c.registry.Drain() {
		if t.abandon() {
			n++
		}
	}
	c.metrics.tasksCancelled.Add(n)
	if n > 0 {
		c.logger.Info("cancelled tasks", "count", n)
	}
	return n
}

// Pending is the number of registered tasks.
func (c *Controller) Pending() int {
	return c.registry.Len()
}

// recentKeys caps the key list in Stats.
const recentKeys = 16

// Snapshot reports pipeline stats. It must run on the loop.
func (c *Controller) Snapshot() Stats {
	return Stats{
		Memory:       c.memory.Stats(),
		PendingTasks: c.registry.Len(),
		QueuedTasks:  c.queue.len(),
		RecentKeys:   c.memory.Keys(recentKeys),
		BoundSlots:   len(c.bindings),
		DiskEnabled:  c.store != nil,
	}
}

// Stats reports pipeline stats from any goroutine other than the loop.
func (c *Controller) Stats() (Stats, bool) {
	var s Stats
	ok := c.loop.Call(func() { s = c.Snapshot() })
	return s, ok
}

// Flush persists the disk tier's bookkeeping. Failures are logged only.
func (c *Controller) Flush() {
	if c.store == nil {
		return
	}
	if err := c.store.Flush(); err != nil {
		c.logger.Warn("disk cache flush failed", "error", err)
		return
	}
	c.logger.Debug("disk cache flushed")
}

// Close abandons outstanding work, waits for the workers to return and stops
// the loop. The store is left open; its owner closes it.
func (c *Controller) Close() {
	c.cancel()
	c.queue.close()
	_ = c.workers.Wait()
	c.loop.Stop()
}

func (c *Controller) work() {
	for {
		t, ok := c.queue.pop()
		if !ok {
			return
		}
		c.execute(t)
	}
}

func (c *Controller) execute(t *Task) {
	if !t.start() {
		return
	}

	var img image.Image
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("task panicked", "id", t.id, "url", t.url, "panic", fmt.Sprint(r))
				img = nil
			}
		}()
		img = c.resolve(t)
	}()

	c.loop.Post(func() { c.complete(t, img) })
}

// complete runs on the loop.
func (c *Controller) complete(t *Task, img image.Image) {
	if !t.finish() {
		c.metrics.resultsDiscarded.Inc()
		c.logger.Debug("discarding result of cancelled task", "id", t.id, "key", t.key)
		return
	}
	c.registry.Remove(t)

	if img != nil {
		if c.memory.Contains(t.key) {
			c.metrics.duplicateResults.Inc()
			c.logger.Debug("key already cached by an earlier completion", "id", t.id, "key", t.key)
		} else {
			c.memory.Put(t.key, img)
		}
	}

	if t.slot != "" && c.bindings[t.slot] != t.key {
		c.metrics.staleResults.Inc()
		c.logger.Debug("slot rebound, dropping result", "id", t.id, "slot", t.slot, "key", t.key)
		return
	}
	t.onResult(img)
}

func (c *Controller) resolve(t *Task) image.Image {
	start := time.Now()
	data, stored := c.load(t)
	c.metrics.fetchDuration.UpdateDuration(start)
	if data == nil {
		return nil
	}

	img, err := c.decode(data)
	if err != nil {
		c.metrics.decodeFailures.Inc()
		c.logger.Warn("failed to decode image", "id", t.id, "url", t.url, "key", t.key, "error", err)
		if stored {
			c.evict(t.key)
		}
		return nil
	}
	return img
}

// load returns the raw bytes for t and whether they came from the disk tier.
func (c *Controller) load(t *Task) ([]byte, bool) {
	if c.store == nil {
		return c.fetch(t), false
	}

	if data, ok := c.read(t); ok {
		c.metrics.diskHits.Inc()
		return data, true
	}

	editor, err := c.store.Edit(t.key)
	if err != nil {
		c.logger.Warn("disk cache edit failed, downloading to memory", "key", t.key, "error", err)
		return c.fetch(t), false
	}
	if editor == nil {
		c.metrics.editConflicts.Inc()
		c.logger.Debug("entry being written elsewhere, downloading to memory", "key", t.key)
		return c.fetch(t), false
	}

	downloaded, ok := c.writeThrough(t, editor)
	if !ok {
		return nil, false
	}
	if data, ok := c.read(t); ok {
		return data, true
	}
	// trimmed straight away, usually because it alone exceeds the disk ceiling
	c.logger.Debug("entry did not stay on disk, using downloaded bytes", "key", t.key, "size", len(downloaded))
	return downloaded, false
}

// writeThrough streams the download into editor and commits it, aborting on
// any failure. It also returns the downloaded bytes.
func (c *Controller) writeThrough(t *Task, editor *diskcache.Editor) ([]byte, bool) {
	finished := false
	defer func() {
		if finished {
			return
		}
		if err := editor.Abort(); err != nil && !errors.Is(err, diskcache.ErrEditorClosed) {
			c.logger.Warn("failed to abort disk cache edit", "key", t.key, "error", err)
		}
	}()

	w, err := editor.NewWriter(0)
	if err != nil {
		c.logger.Warn("failed to open disk cache writer", "key", t.key, "error", err)
		return nil, false
	}
	var buf bytes.Buffer
	if err := c.download(t, teeWriteCloser{WriteCloser: w, tee: &buf}); err != nil {
		return nil, false
	}

	finished = true
	if err := editor.Commit(); err != nil {
		c.logger.Warn("failed to commit disk cache entry", "key", t.key, "error", err)
		return nil, false
	}
	return buf.Bytes(), true
}

func (c *Controller) read(t *Task) ([]byte, bool) {
	snap, err := c.store.Get(t.key)
	if err != nil {
		c.logger.Warn("disk cache read failed", "key", t.key, "error", err)
		return nil, false
	}
	if snap == nil {
		return nil, false
	}
	defer snap.Close()

	data, err := snap.Bytes(0)
	if err != nil {
		c.logger.Warn("failed to read disk cache entry", "key", t.key, "error", err)
		return nil, false
	}
	return data, true
}

func (c *Controller) fetch(t *Task) []byte {
	var buf bytes.Buffer
	if err := c.download(t, nopCloser{&buf}); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (c *Controller) download(t *Task, sink io.WriteCloser) error {
	c.metrics.downloads.Inc()
	if err := c.downloader.Fetch(t.ctx, t.url, sink); err != nil {
		c.metrics.downloadFailures.Inc()
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn("download failed", "id", t.id, "url", t.url, "error", err)
		}
		return err
	}
	return nil
}

func (c *Controller) evict(key string) {
	if _, err := c.store.Remove(key); err != nil {
		c.logger.Warn("failed to remove undecodable entry", "key", key, "error", err)
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// teeWriteCloser copies everything written to w into tee as well.
type teeWriteCloser struct {
	io.WriteCloser
	tee io.Writer
}

func (w teeWriteCloser) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	_, _ = w.tee.Write(p[:n])
	return n, err
}
