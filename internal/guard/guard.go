// Package guard keeps two scheduled runs from overlapping on one host.
//
// The marker is a pidfile created exclusively at run start and removed on
// every exit path of the owning process. A process killed without running
// its cleanup (SIGKILL, OOM) leaves the marker behind and later runs refuse
// to start until an operator removes it.
package guard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/kebairia/jujubackup/internal/fileutil"
)

// ErrAlreadyRunning indicates another run holds the marker.
var ErrAlreadyRunning = errors.New("backup already running")

// Marker is a held run marker.
type Marker struct {
	path    string
	once    sync.Once
	release error
}

// Acquire creates the marker at path recording the current pid.
func Acquire(path string) (*Marker, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s already exists%s", ErrAlreadyRunning, path, holder(path))
		}
		return nil, fmt.Errorf("create run marker %q: %w", path, err)
	}

	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write run marker %q: %w", path, err)
	}
	return &Marker{path: path}, nil
}

// Path returns the marker location.
func (m *Marker) Path() string { return m.path }

// Release removes the marker. It is safe to call more than once.
func (m *Marker) Release() error {
	m.once.Do(func() {
		if err := fileutil.RemoveIfExists(m.path); err != nil {
			m.release = fmt.Errorf("remove run marker %q: %w", m.path, err)
		}
	})
	return m.release
}

func holder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	pid := strings.TrimSpace(string(data))
	if pid == "" {
		return ""
	}
	return " (pid " + pid + ")"
}
