package rawstore

import (
	"sync"

	"github.com/pkg/errors"
)

// LogInstant is a position in the log. Zero means none.
type LogInstant uint64

// Logger is the write-ahead log as seen by a page. LogBeforeMutation is
// called exactly once for every change, before any page byte changes.
type Logger interface {
	LogBeforeMutation(p *Page, op *Operation) (LogInstant, error)
	// FlushTo makes every record up to instant durable. Pages are written
	// only after their last change is flushed.
	FlushTo(instant LogInstant) error
}

// MemLog keeps encoded operations in memory. It can replay them to rebuild
// a page image.
type MemLog struct {
	mu           sync.Mutex
	records      [][]byte
	flushed      LogInstant
	compressor   Compressor
	decompressor DeCompressor
}

// NewMemLog returns an empty log whose record data is compressed with alg.
func NewMemLog(alg CompressAlgorithm) (*MemLog, error) {
	c, d, err := alg.Codec()
	if err != nil {
		return nil, err
	}
	return &MemLog{compressor: c, decompressor: d}, nil
}

func (l *MemLog) LogBeforeMutation(p *Page, op *Operation) (LogInstant, error) {
	rec := op.Marshal(l.compressor)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return LogInstant(len(l.records)), nil
}

func (l *MemLog) FlushTo(instant LogInstant) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if instant > LogInstant(len(l.records)) {
		return errors.Errorf("flush to %d past end of log %d", instant, len(l.records))
	}
	if instant > l.flushed {
		l.flushed = instant
	}
	return nil
}

// Flushed returns the highest durable instant.
func (l *MemLog) Flushed() LogInstant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushed
}

// Len returns the number of records.
func (l *MemLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Operations decodes the records of one page, oldest first.
func (l *MemLog) Operations(key PageKey) ([]*Operation, error) {
	l.mu.Lock()
	records := append([][]byte{}, l.records...)
	l.mu.Unlock()

	var ops []*Operation
	for i, rec := range records {
		op := &Operation{}
		if err := op.Unmarshal(rec, l.decompressor); err != nil {
			return nil, errors.Wrapf(err, "log record %d", i+1)
		}
		if op.Page == key {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// Replay rebuilds the image of a page from its records. The first record
// must initialise the page.
func (l *MemLog) Replay(key PageKey, format PageFormat, pageSize int) ([]byte, error) {
	ops, err := l.Operations(key)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, errors.Wrapf(ErrPageNotFound, "no log records for %s", key)
	}
	if ops[0].Kind != OpInitPage {
		return nil, errors.Errorf("log for %s starts with %s", key, ops[0].Kind)
	}
	p := newPage(nil, format, pageSize)
	p.key = key
	for _, op := range ops {
		if err := p.redo(op); err != nil {
			return nil, err
		}
	}
	return append([]byte{}, p.image()...), nil
}
