package writer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"

	appconfig "marketpulse/config"
	"marketpulse/internal/metrics"
	"marketpulse/logger"
	"marketpulse/models"
)

// ErrCacheMiss is returned by a Store that holds no artifact.
var ErrCacheMiss = errors.New("cache artifact not found")

// Store persists the weekly history artifact.
type Store interface {
	// Load returns the stored records and when they were written.
	Load(ctx context.Context) ([]models.NormalizedRecord, time.Time, error)
	Save(ctx context.Context, records []models.NormalizedRecord) error
	Name() string
}

// FileStore keeps the artifact as a parquet file on local disk.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Name() string { return "file:" + s.path }

func (s *FileStore) Load(ctx context.Context) ([]models.NormalizedRecord, time.Time, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, ErrCacheMiss
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat cache %s: %w", s.path, err)
	}

	fr, err := local.NewLocalFileReader(s.path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("open cache %s: %w", s.path, err)
	}
	defer fr.Close()

	records, err := readRecords(fr)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read cache %s: %w", s.path, err)
	}
	return records, info.ModTime(), nil
}

// Save writes to a temporary file beside the artifact and renames it into
// place, so readers never see a partial file.
func (s *FileStore) Save(ctx context.Context, records []models.NormalizedRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp := s.path + ".tmp"

	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := writeRecords(fw, records); err != nil {
		fw.Close()
		os.Remove(tmp)
		return err
	}
	if err := fw.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename cache into place: %w", err)
	}
	return nil
}

// BuildFunc produces the dataset for an inclusive year range.
type BuildFunc func(ctx context.Context, from, to int) ([]models.NormalizedRecord, error)

// Cache implements load-if-present-else-build over a primary store and an
// optional mirror.
type Cache struct {
	primary Store
	mirror  Store
	maxAge  time.Duration
	now     func() time.Time
	log     *logger.Log
}

// NewCache wires a cache over primary. mirror may be nil.
func NewCache(primary, mirror Store, maxAge time.Duration) *Cache {
	return &Cache{
		primary: primary,
		mirror:  mirror,
		maxAge:  maxAge,
		now:     time.Now,
		log:     logger.GetLogger(),
	}
}

// NewCacheFromConfig builds the file store and, when S3 is enabled, the S3
// mirror.
func NewCacheFromConfig(ctx context.Context, cfg *appconfig.Config) (*Cache, error) {
	var mirror Store
	if cfg.Storage.S3.Enabled {
		s3Store, err := NewS3Store(ctx, cfg.Storage.S3, cfg.Cache.S3Key)
		if err != nil {
			return nil, err
		}
		mirror = s3Store
	}
	return NewCache(NewFileStore(cfg.Cache.Path), mirror, cfg.Cache.MaxAge), nil
}

// BuildOrLoad returns the stored artifact verbatim when one exists, whatever
// range is requested. Otherwise it calls build, stores the result and
// returns it. A failure to store is logged and the built dataset is still
// returned.
func (c *Cache) BuildOrLoad(ctx context.Context, from, to int, build BuildFunc) ([]models.NormalizedRecord, error) {
	log := c.log.WithComponent("cache").WithFields(logger.Fields{
		"start_year": from,
		"end_year":   to,
	})

	if records, ok := c.lookup(ctx, c.primary, log); ok {
		c.recordLookup(true)
		return records, nil
	}
	if c.mirror != nil {
		if records, ok := c.lookup(ctx, c.mirror, log); ok {
			c.recordLookup(true)
			if err := c.primary.Save(ctx, records); err != nil {
				log.WithError(err).Warn("failed to copy mirrored cache to primary store")
			}
			return records, nil
		}
	}
	c.recordLookup(false)

	start := time.Now()
	records, err := build(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	if err := c.primary.Save(ctx, records); err != nil {
		log.WithError(err).Error("failed to store cache")
	} else {
		logger.LogDataFlowEntry(log, "normalizer", c.primary.Name(), len(records), "weekly_history")
	}
	if c.mirror != nil {
		if err := c.mirror.Save(ctx, records); err != nil {
			log.WithError(err).Warn("failed to mirror cache")
		}
	}
	logger.LogPerformanceEntry(log, "cache", "build", time.Since(start), logger.Fields{"records": len(records)})
	return records, nil
}

// lookup treats a stale artifact as absent when maxAge is set.
func (c *Cache) lookup(ctx context.Context, s Store, log *logger.Entry) ([]models.NormalizedRecord, bool) {
	records, written, err := s.Load(ctx)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false
	}
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"store": s.Name()}).Warn("cache unreadable, rebuilding")
		return nil, false
	}
	if c.maxAge > 0 && !written.IsZero() && c.now().Sub(written) > c.maxAge {
		log.WithFields(logger.Fields{
			"store":   s.Name(),
			"written": written,
			"max_age": c.maxAge,
		}).Info("cache older than max age, rebuilding")
		return nil, false
	}
	log.WithFields(logger.Fields{"store": s.Name(), "records": len(records)}).Debug("cache hit")
	return records, true
}

func (c *Cache) recordLookup(hit bool) {
	metrics.RecordCacheLookup(hit)
	logger.RecordCacheLookup(hit)
}
