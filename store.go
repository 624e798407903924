package rawstore

import (
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
)

// PageStore holds page images durably. Page numbers are dense from 0.
type PageStore interface {
	// ReadPage fills buf with the image of page n, or fails with
	// ErrPageNotFound if it was never written.
	ReadPage(n int64, buf []byte) error
	WritePage(n int64, buf []byte) error
	// PageCount returns one past the highest page number written.
	PageCount() (int64, error)
	Sync() error
	Close() error
}

// CorruptionHandler is told when a page cannot be trusted. Stores that
// implement it can fence off the container until recovery.
type CorruptionHandler interface {
	MarkCorrupt(key PageKey, err error)
}

type cachedImage struct {
	gen   uint64
	image []byte
}

// MemStore keeps compressed page images in memory, with a cache of
// decompressed images in front of them.
type MemStore struct {
	mu      sync.Mutex
	images  map[int64][]byte
	gens    map[int64]uint64
	corrupt map[int64]error

	compress   Compressor
	decompress DeCompressor
	cache      *ristretto.Cache[int64, cachedImage]
}

// NewMemStore returns an empty store. cacheBytes bounds the decompressed
// image cache.
func NewMemStore(alg CompressAlgorithm, cacheBytes int64) (*MemStore, error) {
	c, d, err := alg.Codec()
	if err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config[int64, cachedImage]{
		NumCounters: 10 * maxOf(cacheBytes/int64(DefaultPageSize), 64),
		MaxCost:     cacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "page image cache")
	}
	return &MemStore{
		images:     make(map[int64][]byte),
		gens:       make(map[int64]uint64),
		corrupt:    make(map[int64]error),
		compress:   c,
		decompress: d,
		cache:      cache,
	}, nil
}

func (s *MemStore) ReadPage(n int64, buf []byte) error {
	s.mu.Lock()
	stored, ok := s.images[n]
	gen := s.gens[n]
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrPageNotFound, "page %d", n)
	}
	if v, ok := s.cache.Get(n); ok && v.gen == gen && len(v.image) == len(buf) {
		copy(buf, v.image)
		return nil
	}
	image := stored
	if s.decompress != nil {
		var err error
		if image, err = s.decompress(stored); err != nil {
			return errors.Wrapf(err, "decompress page %d", n)
		}
	}
	if len(image) != len(buf) {
		return errors.Wrapf(ErrCorruptPage, "page %d image is %d bytes, want %d", n, len(image), len(buf))
	}
	copy(buf, image)
	s.cache.Set(n, cachedImage{gen: gen, image: append([]byte{}, image...)}, int64(len(image)))
	return nil
}

func (s *MemStore) WritePage(n int64, buf []byte) error {
	stored := append([]byte{}, buf...)
	if s.compress != nil {
		stored = s.compress(buf)
	}
	s.mu.Lock()
	s.images[n] = stored
	s.gens[n]++
	s.mu.Unlock()
	s.cache.Del(n)
	return nil
}

func (s *MemStore) PageCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for n := range s.images {
		count = maxOf(count, n+1)
	}
	return count, nil
}

func (s *MemStore) Sync() error { return nil }

func (s *MemStore) Close() error {
	s.cache.Close()
	return nil
}

func (s *MemStore) MarkCorrupt(key PageKey, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt[key.Page] = err
}

// Corrupted returns the pages reported through MarkCorrupt.
func (s *MemStore) Corrupted() map[int64]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]error, len(s.corrupt))
	for n, err := range s.corrupt {
		out[n] = err
	}
	return out
}

// Tamper applies f to the stored image of page n, bypassing checksums.
// Tests use it to simulate damage on disk.
func (s *MemStore) Tamper(n int64, f func(image []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.images[n]
	if !ok {
		return errors.Wrapf(ErrPageNotFound, "page %d", n)
	}
	image := stored
	if s.decompress != nil {
		var err error
		if image, err = s.decompress(stored); err != nil {
			return err
		}
	} else {
		image = append([]byte{}, stored...)
	}
	f(image)
	if s.compress != nil {
		s.images[n] = s.compress(image)
	} else {
		s.images[n] = image
	}
	s.gens[n]++
	s.cache.Del(n)
	return nil
}
