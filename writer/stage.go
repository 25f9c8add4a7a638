package writer

import (
	"fmt"
	"os"
	"path/filepath"

	"cryptoledger/logger"
)

const backupSuffix = ".prev"

// Staged holds a table rendered in every configured format inside a hidden
// staging directory next to the export directory. Nothing becomes visible in
// dir until Commit, and Rollback restores dir to its state before Stage.
type Staged struct {
	Files []ExportedFile

	dir       string
	staging   string
	committed []string
	backups   map[string]string
}

// Stage renders table into a fresh staging directory under dir, one file per
// format. On error the staging directory is removed.
func Stage(table *Table, dir string, formats []string) (*Staged, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrIO, dir, err)
	}
	staging, err := os.MkdirTemp(dir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create staging directory: %v", ErrIO, err)
	}

	s := &Staged{dir: dir, staging: staging, backups: make(map[string]string)}
	for _, format := range formats {
		file, err := Export(table, staging, format)
		if err != nil {
			os.RemoveAll(staging)
			return nil, err
		}
		s.Files = append(s.Files, file)
	}
	return s, nil
}

// Commit moves the staged files into the export directory and returns them
// with their final paths. A file already in place is kept aside until Finish
// so Rollback can put it back. If a move fails, everything moved so far is
// rolled back.
func (s *Staged) Commit() ([]ExportedFile, error) {
	out := make([]ExportedFile, 0, len(s.Files))
	for _, f := range s.Files {
		final := filepath.Join(s.dir, filepath.Base(f.Path))

		if _, err := os.Stat(final); err == nil {
			backup := filepath.Join(s.staging, filepath.Base(f.Path)+backupSuffix)
			if err := os.Rename(final, backup); err != nil {
				s.Rollback()
				return nil, fmt.Errorf("%w: keep previous %s: %v", ErrIO, final, err)
			}
			s.backups[final] = backup
		}

		if err := os.Rename(f.Path, final); err != nil {
			s.Rollback()
			return nil, fmt.Errorf("%w: move %s into place: %v", ErrIO, final, err)
		}
		s.committed = append(s.committed, final)

		f.Path = final
		out = append(out, f)
	}
	return out, nil
}

// Rollback removes committed files, restores the files they replaced and
// drops the staging directory. It is safe to call more than once.
func (s *Staged) Rollback() {
	if s.staging == "" {
		return
	}
	log := logger.GetLogger().WithComponent(component).WithFields(logger.Fields{"dir": s.dir})

	for _, final := range s.committed {
		if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("failed to remove exported file during rollback")
		}
	}
	for final, backup := range s.backups {
		if err := os.Rename(backup, final); err != nil {
			log.WithError(err).Warn("failed to restore previous export during rollback")
		}
	}
	if len(s.committed) > 0 {
		log.WithField("files", len(s.committed)).Warn("export rolled back")
	}
	s.finish()
}

// Finish drops the staging directory and the replaced files kept for
// Rollback. Call it once the run has succeeded.
func (s *Staged) Finish() {
	if s.staging == "" {
		return
	}
	s.finish()
}

func (s *Staged) finish() {
	os.RemoveAll(s.staging)
	s.staging = ""
	s.committed = nil
	s.backups = nil
}
