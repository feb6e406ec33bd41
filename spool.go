package postwhite

import (
	"os"
	"path/filepath"
	"time"
)

// Spool is the learning-mode marker contract of §4.C. A marker's mtime
// carries the moment learning began; staleness is checked lazily on every
// query, never reaped eagerly (§9, "Learning expiry reaper: absent by
// design").
type Spool interface {
	IsLearning(recipient string) (bool, error)
	BeginLearning(recipient string) error
	EndLearning(recipient string) error
}

// FileSpool implements Spool against zero-length marker files under a
// spool directory, one per recipient.
type FileSpool struct {
	dir    string
	period time.Duration
	now    clock
}

// NewFileSpool roots a Spool at dir, treating a marker older than period
// as absent.
func NewFileSpool(dir string, period time.Duration) *FileSpool {
	return &FileSpool{dir: dir, period: period, now: time.Now}
}

func (s *FileSpool) path(recipient string) string {
	return filepath.Join(s.dir, recipient)
}

// IsLearning reports whether the marker exists and is younger than the
// configured learning period.
func (s *FileSpool) IsLearning(recipient string) (bool, error) {
	info, err := os.Stat(s.path(recipient))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StoreIOError{Op: "stat spool", Err: err}
	}
	return s.now().Sub(info.ModTime()) < s.period, nil
}

// BeginLearning creates the marker if absent, or refreshes its mtime if
// present, restarting the window.
func (s *FileSpool) BeginLearning(recipient string) error {
	path := s.path(recipient)
	now := s.now()

	if f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640); err == nil {
		f.Close()
		return os.Chtimes(path, now, now)
	} else if !os.IsExist(err) {
		return &StoreIOError{Op: "create spool", Err: err}
	}

	if err := os.Chtimes(path, now, now); err != nil {
		return &StoreIOError{Op: "touch spool", Err: err}
	}
	return nil
}

// EndLearning deletes the marker if present; absence is not an error.
func (s *FileSpool) EndLearning(recipient string) error {
	if err := os.Remove(s.path(recipient)); err != nil && !os.IsNotExist(err) {
		return &StoreIOError{Op: "remove spool", Err: err}
	}
	return nil
}
