package importer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// destLocks serializes moves into the same destination path so two
// concurrent imports cannot interleave on one target file.
var destLocks sync.Map // string -> *sync.Mutex

func lockDest(dest string) func() {
	mu, _ := destLocks.LoadOrStore(dest, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// MoveFile moves src to dest, creating parent directories. Within one
// filesystem this is an atomic rename; across filesystems the file is
// copied to a temp sibling, fsynced, renamed into place, and only then
// is the source unlinked. A partially written file never occupies the
// final name.
func MoveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	unlock := lockDest(dest)
	defer unlock()

	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return fmt.Errorf("renaming %s: %w", src, err)
	}
	return copyAcrossDevices(src, dest)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}

func copyAcrossDevices(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmp := dest + ".partial~"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying to %s: %w", tmp, err)
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err = os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("renaming temp into place: %w", err)
	}
	if err = os.Remove(src); err != nil {
		return fmt.Errorf("removing source after copy: %w", err)
	}
	return nil
}
