package rawstore

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoSpaceOnPage means the row does not fit; try another page.
	ErrNoSpaceOnPage = errors.New("no space on page")

	ErrCorruptPage      = errors.New("corrupt page")
	ErrBadChecksum      = errors.New("page checksum mismatch")
	ErrContainerCorrupt = errors.New("container marked corrupt")

	ErrRecordVanished      = errors.New("record vanished")
	ErrSlotOutOfRange      = errors.New("slot out of range")
	ErrInvalidRecordHandle = errors.New("invalid record handle")

	ErrAlreadyDeleted    = errors.New("record already deleted")
	ErrNotDeleted        = errors.New("record not deleted")
	ErrContainerReadOnly = errors.New("container is read only")
	ErrContainerClosed   = errors.New("container handle closed")

	ErrPageNotFound = errors.New("page not found")
	ErrLatchNotHeld = errors.New("page not latched by caller")
	ErrInvalidPage  = errors.New("page is not valid")
)

// assert panics when an engine invariant does not hold. These are bugs in
// the engine, never bad input.
func assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.Errorf("rawstore: invariant violated: "+format, args...))
	}
}

// corruptf wraps ErrCorruptPage with the page identity.
func corruptf(key PageKey, format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruptPage, "%s: %s", key, fmt.Sprintf(format, args...))
}
