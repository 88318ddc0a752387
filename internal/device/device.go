// Package device identifies the machine a cabinet is used from, so that
// incarnations recorded on one machine are not confused with paths on
// another when the repository directory is copied between them.
package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/google/uuid"
)

// EnvDeviceID overrides the persisted device ID when set.
const EnvDeviceID = "FILING_CABINET_DEVICE_ID"

// idFile is the name of the file holding the device ID inside the state
// directory.
const idFile = "device-id"

// Identity describes the current device.
type Identity struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
}

// Provider supplies the current device identity.
type Provider interface {
	Identity(ctx context.Context) (Identity, error)
}

// Static is a Provider returning a fixed identity.
type Static Identity

// Identity implements Provider.
func (s Static) Identity(context.Context) (Identity, error) {
	return Identity(s), nil
}

// Resolver resolves the identity from a state directory on every call.
type Resolver struct {
	StateDir string
}

// Identity implements Provider.
func (r Resolver) Identity(context.Context) (Identity, error) {
	return Resolve(r.StateDir)
}

// Resolve returns the identity of this machine. The ID is read from
// <stateDir>/device-id, generated and persisted on first use, unless the
// FILING_CABINET_DEVICE_ID environment variable is set.
func Resolve(stateDir string) (Identity, error) {
	id := strings.TrimSpace(os.Getenv(EnvDeviceID))
	if id == "" {
		var err error
		id, err = loadOrCreateID(stateDir)
		if err != nil {
			return Identity{}, err
		}
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return Identity{ID: id, Hostname: host, Platform: platform()}, nil
}

func loadOrCreateID(stateDir string) (string, error) {
	path := filepath.Join(stateDir, idFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr != nil {
			return "", fmt.Errorf("device id in %s is malformed: %w", path, perr)
		}
		return id, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read device id: %w", err)
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	id := uuid.NewString()
	if err := renameio.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}
