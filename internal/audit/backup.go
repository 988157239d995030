package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// BackupService periodically copies the journal database aside and
// prunes copies older than the retention window.
type BackupService struct {
	dbPath        string
	storagePath   string
	retentionDays int
	logger        *zerolog.Logger
}

func NewBackupService(dbPath, storagePath string, retentionDays int, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		dbPath:        dbPath,
		storagePath:   storagePath,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

func (s *BackupService) Start(ctx context.Context) {
	if s.storagePath == "" {
		s.logger.Info().Msg("Journal backups disabled")
		return
	}

	s.logger.Info().Str("path", s.storagePath).Msg("Journal backup service started")

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	if err := s.PerformBackup(); err != nil {
		s.logger.Error().Err(err).Msg("Initial backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PerformBackup(); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

func (s *BackupService) PerformBackup() error {
	if _, err := os.Stat(s.storagePath); os.IsNotExist(err) {
		if err := os.MkdirAll(s.storagePath, 0o755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
	}

	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(s.storagePath, fmt.Sprintf("journal_%s.db", timestamp))

	s.logger.Info().Str("path", backupPath).Msg("Backing up intent journal")

	source, err := os.Open(s.dbPath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer destination.Close()

	if _, err := io.Copy(destination, source); err != nil {
		return err
	}

	s.logger.Info().Msg("Backup completed")
	return nil
}

func (s *BackupService) CleanupOldBackups() {
	if s.retentionDays <= 0 {
		return
	}

	files, err := os.ReadDir(s.storagePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting old backup")
			os.Remove(filepath.Join(s.storagePath, file.Name()))
		}
	}
}
