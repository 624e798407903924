//go:build unix

package rawstore

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var ErrWriteByOther = errors.New("container file opened with write mode by another process")

// FileStore keeps page images in a single file at offset n*pageSize. The
// file is flock'ed: exclusively when writable, shared when read-only.
type FileStore struct {
	file     *os.File
	path     string
	pageSize int
	readOnly bool
}

// OpenFileStore opens or creates a page file. timeout bounds the wait for
// the file lock; zero means fail at once when another process holds it.
func OpenFileStore(path string, pageSize int, readOnly bool, timeout time.Duration) (*FileStore, error) {
	s := &FileStore{path: path, pageSize: pageSize, readOnly: readOnly}
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	var err error
	if s.file, err = os.OpenFile(path, flag, 0644); err != nil {
		if os.IsNotExist(err) && readOnly {
			return nil, err
		}
		if s.file, err = os.OpenFile(path, flag|os.O_CREATE, 0644); err != nil {
			return nil, err
		}
	}
	if err := waitflock(s, timeout); err != nil {
		_ = s.file.Close()
		return nil, err
	}
	return s, nil
}

// flock acquires an advisory lock on the file without blocking.
func flock(s *FileStore) error {
	flag := unix.LOCK_SH
	if !s.readOnly {
		flag = unix.LOCK_EX
	}
	err := unix.Flock(int(s.file.Fd()), flag|unix.LOCK_NB)
	if err == nil {
		return nil
	} else if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
		return ErrWriteByOther
	}
	return errors.Wrap(err, "flock failed: unknown error")
}

// waitflock retries flock until timeout passes.
func waitflock(s *FileStore, timeout time.Duration) error {
	start := time.Now()
	for {
		err := flock(s)
		if err == nil || !errors.Is(err, ErrWriteByOther) {
			return err
		}
		if timeout <= 0 || time.Since(start) > timeout {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// funlock releases the advisory lock.
func funlock(s *FileStore) error {
	return unix.Flock(int(s.file.Fd()), unix.LOCK_UN)
}

func (s *FileStore) ReadPage(n int64, buf []byte) error {
	if len(buf) != s.pageSize {
		return errors.Errorf("read buffer of %d bytes for page size %d", len(buf), s.pageSize)
	}
	_, err := s.file.ReadAt(buf, n*int64(s.pageSize))
	if err == io.EOF {
		return errors.Wrapf(ErrPageNotFound, "page %d", n)
	}
	return errors.Wrapf(err, "read page %d", n)
}

func (s *FileStore) WritePage(n int64, buf []byte) error {
	if s.readOnly {
		return ErrContainerReadOnly
	}
	_, err := s.file.WriteAt(buf, n*int64(s.pageSize))
	return errors.Wrapf(err, "write page %d", n)
}

func (s *FileStore) PageCount() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat page file")
	}
	return info.Size() / int64(s.pageSize), nil
}

func (s *FileStore) Sync() error {
	if s.readOnly {
		return nil
	}
	return errors.Wrap(s.file.Sync(), "sync page file")
}

func (s *FileStore) Close() error {
	if s.file == nil {
		return nil
	}
	if !s.readOnly {
		if err := funlock(s); err != nil {
			log.Printf("FileStore.Close(): funlock error: %s", err)
		}
	}
	if err := s.file.Close(); err != nil {
		return errors.Wrap(err, "page file closed")
	}
	s.file = nil
	return nil
}
