// Package artifacts keeps synthesized reply audio on local disk so that
// assistant turns can reference it through audio_url.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var newUUID = uuid.NewString

// AudioDir writes one WAV file per reply under <root>/<session id>/.
type AudioDir struct {
	root string
}

func NewAudioDir(root string) (*AudioDir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("artifacts: root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create %s: %w", root, err)
	}
	return &AudioDir{root: root}, nil
}

// Save returns the path of the written file relative to the root.
func (d *AudioDir) Save(ctx context.Context, sessionID string, audio []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir, err := d.sessionDir(sessionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: create %s: %w", dir, err)
	}

	name := newUUID() + ".wav"
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("artifacts: create temp file: %w", err)
	}
	if _, err := tmp.Write(audio); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("artifacts: write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("artifacts: close audio: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("artifacts: publish audio: %w", err)
	}
	return filepath.ToSlash(filepath.Join(filepath.Base(dir), name)), nil
}

// Open resolves a reference returned by Save.
func (d *AudioDir) Open(ref string) (*os.File, error) {
	path, err := d.resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes a reference returned by Save. A missing file is not an error.
func (d *AudioDir) Remove(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := d.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifacts: remove %s: %w", ref, err)
	}
	return nil
}

func (d *AudioDir) resolve(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("artifacts: invalid reference %q", ref)
	}
	return filepath.Join(d.root, clean), nil
}

// sessionDir rejects ids that would escape the root.
func (d *AudioDir) sessionDir(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("artifacts: invalid session id %q", sessionID)
	}
	return filepath.Join(d.root, sessionID), nil
}
