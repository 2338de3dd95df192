// Package reliability keeps restorable copies of the engine's databases.
package reliability

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/database"
	"paperbot/internal/modules/history"
)

// BackupService writes dated, verified copies of the journal and bar
// databases and prunes old ones. Copies are made with VACUUM INTO, so each
// backup is a plain SQLite file and a restore is a file copy.
type BackupService struct {
	journal   *database.DB   // nil skips the journal
	bars      *history.Store // nil skips the bar store
	backupDir string
	keepDays  int
	log       zerolog.Logger
}

func NewBackupService(journal *database.DB, bars *history.Store, backupDir string, keepDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		journal:   journal,
		bars:      bars,
		backupDir: backupDir,
		keepDays:  keepDays,
		log:       log.With().Str("component", "backup").Logger(),
	}
}

// Backup writes today's copies into a dated directory and rotates old ones.
// A copy that fails verification is deleted; only every copy failing is an
// error.
func (s *BackupService) Backup() (string, error) {
	date := time.Now().UTC().Format("2006-01-02")
	dir := filepath.Join(s.backupDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	attempted, failed := 0, 0

	if s.journal != nil {
		attempted++
		if err := s.backupOne(filepath.Join(dir, "journal.db"), s.dumpJournal); err != nil {
			s.log.Error().Err(err).Msg("Journal backup failed")
			failed++
		}
	}

	if s.bars != nil {
		attempted++
		if err := s.backupOne(filepath.Join(dir, "history.db"), s.bars.Backup); err != nil {
			s.log.Error().Err(err).Msg("History backup failed")
			failed++
		}
	}

	if attempted > 0 && failed == attempted {
		return "", fmt.Errorf("all %d backups failed", failed)
	}

	if err := s.rotate(); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	s.log.Info().
		Str("dir", dir).
		Int("databases", attempted-failed).
		Msg("Backup complete")
	return dir, nil
}

func (s *BackupService) dumpJournal(path string) error {
	if _, err := s.journal.Conn().Exec(fmt.Sprintf("VACUUM INTO '%s'", path)); err != nil {
		return fmt.Errorf("journal backup failed: %w", err)
	}
	return nil
}

// backupOne dumps one database and integrity-checks the copy. VACUUM INTO
// will not overwrite, so any same-day copy is cleared first.
func (s *BackupService) backupOne(path string, dump func(string) error) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing previous backup: %w", err)
	}
	if err := dump(path); err != nil {
		return err
	}
	if err := verify(path); err != nil {
		os.Remove(path)
		return err
	}

	s.log.Debug().Str("path", path).Msg("Backup written")
	return nil
}

// verify runs an integrity check against a backup copy.
func verify(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening backup %s: %w", path, err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check on %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check on %s reported %q", path, result)
	}
	return nil
}

// rotate deletes dated backup directories older than keepDays. Directories
// that do not parse as dates are left alone.
func (s *BackupService) rotate() error {
	if s.keepDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.keepDays)

	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return fmt.Errorf("reading backup directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirDate, err := time.Parse("2006-01-02", entry.Name())
		if err != nil {
			continue
		}
		if dirDate.Before(cutoff) {
			path := filepath.Join(s.backupDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				s.log.Warn().Str("path", path).Err(err).Msg("Failed to delete old backup")
			} else {
				s.log.Debug().Str("path", path).Msg("Deleted old backup")
			}
		}
	}
	return nil
}

// Restore copies the newest verified backup of name (journal.db or
// history.db) over target. The live database must be closed; the caller
// runs this before opening anything.
func (s *BackupService) Restore(name, target string) (string, error) {
	source := s.findLatest(name)
	if source == "" {
		return "", fmt.Errorf("no backup found for %s under %s", name, s.backupDir)
	}
	if err := verify(source); err != nil {
		return "", fmt.Errorf("refusing to restore: %w", err)
	}
	if err := copyOver(source, target); err != nil {
		return "", err
	}

	s.log.Warn().Str("from", source).Str("to", target).Msg("Database restored from backup")
	return source, nil
}

// findLatest returns the newest copy of the named database file anywhere
// under the backup directory.
func (s *BackupService) findLatest(name string) string {
	var newest string
	var newestTime time.Time

	_ = filepath.Walk(s.backupDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Base(path) != name {
			return nil
		}
		if info.ModTime().After(newestTime) {
			newest = path
			newestTime = info.ModTime()
		}
		return nil
	})
	return newest
}

// copyOver replaces target with source. Leftover WAL and SHM files from the
// replaced database are removed so SQLite cannot replay them into the
// restored copy.
func copyOver(source, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating restore directory: %w", err)
	}
	for _, stale := range []string{target, target + "-wal", target + "-shm"} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clearing %s: %w", stale, err)
		}
	}

	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating restored database: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying backup: %w", err)
	}
	return out.Close()
}

// BackupJob wraps BackupService.Backup for the scheduler.
type BackupJob struct {
	service *BackupService
}

func NewBackupJob(service *BackupService) *BackupJob {
	return &BackupJob{service: service}
}

func (j *BackupJob) Run() error {
	_, err := j.service.Backup()
	return err
}

func (j *BackupJob) Name() string {
	return "backup"
}
