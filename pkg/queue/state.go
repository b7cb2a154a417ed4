package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// StateFileName is the resume artifact kept in the archive root. The leading dot keeps it out of the archive listing.
const StateFileName = ".pending"

// StateFile persists a frontier between runs
type StateFile struct {
	path string
}

// NewStateFile returns the state file of the archive rooted at outputDir
func NewStateFile(outputDir string) *StateFile {
	return &StateFile{path: filepath.Join(outputDir, StateFileName)}
}

// Path returns the state file location
func (s *StateFile) Path() string { return s.path }

// Exists reports whether there is anything to resume
func (s *StateFile) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Save writes the frontier's pending URLs atomically
func (s *StateFile) Save(f *Frontier) error {
	data, err := f.Serialize()
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrResumeState, err)
	}
	return nil
}

// Load restores f from the state file. A missing file means there is nothing to resume and is an error.
func (s *StateFile) Load(f *Frontier) error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: nothing to resume, no state file at %s", utils.ErrResumeState, s.path)
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", utils.ErrResumeState, s.path, err)
	}
	return f.Restore(data)
}

// Remove deletes the state file after a fully drained run. A missing file is fine.
func (s *StateFile) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", utils.ErrResumeState, s.path, err)
	}
	return nil
}
