package photowall

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/muandane/special-stack/thumbwall/internal/config"
	"github.com/muandane/special-stack/thumbwall/internal/diskcache"
)

// Store is the persistent tier as the controller sees it. *diskcache.Cache
// satisfies it.
type Store interface {
	Get(key string) (*diskcache.Snapshot, error)
	Edit(key string) (*diskcache.Editor, error)
	Remove(key string) (bool, error)
	Flush() error
	Close() error
}

// OpenStore opens the persistent tier at cfg.CacheDir(). A failure is logged
// and yields a nil Store, which runs the pipeline memory-only.
func OpenStore(cfg config.CacheConfig, logger *slog.Logger) Store {
	return OpenStoreFS(osfs.New(cfg.CacheRoot()), cfg, logger)
}

// OpenStoreFS is OpenStore on an arbitrary filesystem rooted at the cache root.
func OpenStoreFS(fs billy.Filesystem, cfg config.CacheConfig, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := diskcache.Open(fs, cfg.Name, cfg.Version, 1, cfg.MaxDiskBytes)
	if err != nil {
		logger.Error("failed to open disk cache, continuing without it",
			"dir", cfg.CacheDir(),
			"error", err,
		)
		return nil
	}
	logger.Info("disk cache opened",
		"dir", cfg.CacheDir(),
		"version", c.Version(),
		"entries", c.Len(),
		"size", c.Size(),
		"max_size", c.MaxSize(),
	)
	return c
}
