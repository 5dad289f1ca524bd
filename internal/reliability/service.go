package reliability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Uploader is the remote side of the backup pipeline.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	Prune(ctx context.Context, prefix string, keep int) error
}

// Service runs the full backup cycle: snapshot, upload, prune, cleanup.
// It satisfies the scheduler's backup runner hook.
type Service struct {
	snapshotter *Snapshotter
	remote      Uploader
	keep        int
	log         zerolog.Logger
}

// NewService creates the backup service. keep bounds the archives retained
// remotely after each run.
func NewService(snapshotter *Snapshotter, remote Uploader, keep int, log zerolog.Logger) *Service {
	return &Service{
		snapshotter: snapshotter,
		remote:      remote,
		keep:        keep,
		log:         log.With().Str("component", "backup_service").Logger(),
	}
}

// Backup performs one backup cycle. The local archive is removed whether or
// not the upload succeeds.
func (s *Service) Backup(ctx context.Context) error {
	started := time.Now()

	archivePath, err := s.snapshotter.Snapshot(started)
	if err != nil {
		return fmt.Errorf("failed to create backup snapshot: %w", err)
	}
	defer os.Remove(archivePath)

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open backup archive: %w", err)
	}
	defer archive.Close()

	info, err := archive.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat backup archive: %w", err)
	}

	key := filepath.Base(archivePath)
	if err := s.remote.Upload(ctx, key, archive); err != nil {
		return err
	}

	if err := s.remote.Prune(ctx, archivePrefix, s.keep); err != nil {
		// The new archive is already safe; rotation can catch up next run.
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	s.log.Info().
		Str("archive", key).
		Int64("size_mb", info.Size()/1024/1024).
		Dur("duration_ms", time.Since(started)).
		Msg("Backup completed")
	return nil
}
