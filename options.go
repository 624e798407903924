package rawstore

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	minPageSize = 1 << 10
	maxPageSize = 1 << 17
)

// Options represents the options that can be set when opening a container.
type Options struct {
	// PageSize is the size of every page in bytes. It must be a power of
	// two between 1 KiB and 128 KiB.
	PageSize int

	// SpareSpace is the percentage of a page kept free for existing rows to
	// grow. Inserts stop once free space drops below it.
	SpareSpace int

	// MinimumRecordSize is the least space a record takes on a page; short
	// records are padded with reserved space.
	MinimumRecordSize int

	// PreAllocSize is the number of pages added at once when the container
	// has to grow.
	PreAllocSize int

	// ReuseRecordIDs restarts record ids at FirstRecordID when a freed page
	// is reused. Only safe when nobody can still hold a handle to a record
	// of the page's previous life.
	ReuseRecordIDs bool

	// Temporary containers are not logged, and purges abandon overflow
	// chains instead of freeing them.
	Temporary bool

	// Open the container in read-only mode.
	ReadOnly bool

	// Compression used by MemStore images and MemLog records when
	// OpenMemory builds them. Open leaves the caller's store and log as
	// they are.
	Compression CompressAlgorithm

	// CleanInterval is how often the background cleaner flushes dirty
	// pages and runs post-commit work. Zero disables the cleaner.
	CleanInterval time.Duration

	// CacheSize is the number of pages kept in memory once they are
	// unpinned and clean.
	CacheSize int

	// Logger receives diagnostics. Nil means the logrus standard logger.
	Logger *log.Logger
}

var DefaultOptions = &Options{
	PageSize:          4096,
	SpareSpace:        20,
	MinimumRecordSize: 12,
	PreAllocSize:      8,
	Compression:       CompSnappy,
	CacheSize:         1024,
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() *Options {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MinimumRecordSize == 0 {
		o.MinimumRecordSize = DefaultOptions.MinimumRecordSize
	}
	if o.PreAllocSize == 0 {
		o.PreAllocSize = DefaultOptions.PreAllocSize
	}
	if o.CacheSize == 0 {
		o.CacheSize = DefaultOptions.CacheSize
	}
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	return &o
}

// Validate checks the options for values the page layout cannot honour.
func (o *Options) Validate() error {
	if o.PageSize < minPageSize || o.PageSize > maxPageSize || o.PageSize&(o.PageSize-1) != 0 {
		return errors.Errorf("page size %d is not a power of two in [%d, %d]", o.PageSize, minPageSize, maxPageSize)
	}
	if o.SpareSpace < 0 || o.SpareSpace > 100 {
		return errors.Errorf("spare space %d%% out of range", o.SpareSpace)
	}
	if o.MinimumRecordSize < 1 || o.MinimumRecordSize > o.PageSize/4 {
		return errors.Errorf("minimum record size %d out of range for page size %d", o.MinimumRecordSize, o.PageSize)
	}
	if o.PreAllocSize < 1 {
		return errors.Errorf("preallocation size %d must be positive", o.PreAllocSize)
	}
	if o.CacheSize < 1 {
		return errors.Errorf("cache size %d must be positive", o.CacheSize)
	}
	if _, _, err := o.Compression.Codec(); err != nil {
		return err
	}
	return nil
}
