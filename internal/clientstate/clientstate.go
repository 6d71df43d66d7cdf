// Package clientstate persists the small amount of agent state that must
// survive a restart: the id of the last active game.
package clientstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type State struct {
	LastActiveGameID string `yaml:"last_active_game_id"`
}

type File struct {
	path string
}

func New(path string) *File {
	return &File{path: path}
}

// Load returns the stored state. A missing file yields the zero State.
func (f *File) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("reading %s: %w", f.path, err)
	}
	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decoding %s: %w", f.path, err)
	}
	return s, nil
}

// Save writes s atomically via a temporary file in the same directory.
func (f *File) Save(s State) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}

// SetActive records gameID as the last active game.
func (f *File) SetActive(gameID string) error {
	return f.Save(State{LastActiveGameID: gameID})
}

// Clear removes the stored state. Clearing a missing file is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
