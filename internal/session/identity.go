package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// IdentityProvider supplies the stable per-installation device
// identifier the guard compares against the session record.
type IdentityProvider interface {
	DeviceID() (string, error)
}

// IdentityFunc adapts a plain function to IdentityProvider.
type IdentityFunc func() (string, error)

func (f IdentityFunc) DeviceID() (string, error) { return f() }

// FileIdentity persists a generated identifier in a local state file so
// it survives restarts. If the file cannot be read or written, the
// identifier lives only for the process lifetime: every restart then
// looks like a new device, which degrades to re-login rather than an
// error.
type FileIdentity struct {
	path string

	mu     sync.Mutex
	cached string
}

func NewFileIdentity(path string) *FileIdentity {
	return &FileIdentity{path: path}
}

func (f *FileIdentity) DeviceID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != "" {
		return f.cached, nil
	}
	if raw, err := os.ReadFile(f.path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			f.cached = id
			return id, nil
		}
	}
	id := uuid.NewString()
	f.cached = id
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err == nil {
		_ = os.WriteFile(f.path, []byte(id+"\n"), 0o600)
	}
	return id, nil
}
