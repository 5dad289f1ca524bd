package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/calendar"
	"github.com/aristath/marketd/internal/domain"
)

// Cron specs for the built-in jobs, evaluated in Asia/Shanghai.
const (
	BasicInfoSpec = "0 0 * * *"
	DailyBarsSpec = "0 16 * * 1-5"
	IndustrySpec  = "0 2 * * 6"
	BackupSpec    = "0 1 * * 0"
)

// StockSyncer refreshes stock metadata and bars from upstream providers.
type StockSyncer interface {
	RefreshBasicInfo(ctx context.Context) (processed, failed int, err error)
	RefreshDailyBars(ctx context.Context) (processed, failed int, err error)
	RefreshIndustries(ctx context.Context) error
}

// BackupRunner produces a database backup.
type BackupRunner interface {
	Backup(ctx context.Context) error
}

// BasicInfoJob refreshes the listing metadata of every stock.
type BasicInfoJob struct {
	syncer StockSyncer
	log    zerolog.Logger
}

func NewBasicInfoJob(syncer StockSyncer) *BasicInfoJob {
	return &BasicInfoJob{syncer: syncer, log: zerolog.Nop()}
}

func (j *BasicInfoJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

func (j *BasicInfoJob) Name() string { return "update_stock_basic_info" }

func (j *BasicInfoJob) Run(ctx context.Context) error {
	processed, failed, err := j.syncer.RefreshBasicInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh stock basic info: %w", err)
	}
	if failed > 0 {
		j.log.Warn().Int("processed", processed).Int("failed", failed).Msg("Basic info refresh finished with failures")
	}
	return nil
}

// DailyBarsJob refreshes today's daily bar for every stock. It does nothing
// on weekends and exchange holidays.
type DailyBarsJob struct {
	syncer StockSyncer
	log    zerolog.Logger

	// now is overridable in tests.
	now func() time.Time
}

func NewDailyBarsJob(syncer StockSyncer) *DailyBarsJob {
	return &DailyBarsJob{syncer: syncer, log: zerolog.Nop(), now: calendar.Today}
}

func (j *DailyBarsJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

func (j *DailyBarsJob) Name() string { return "update_stock_daily" }

func (j *DailyBarsJob) Run(ctx context.Context) error {
	today := j.now()
	if !calendar.IsTradingDay(today) {
		j.log.Info().Str("date", domain.FormatDate(today)).Msg("Not a trading day, skipping daily refresh")
		return nil
	}
	processed, failed, err := j.syncer.RefreshDailyBars(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh daily bars: %w", err)
	}
	if failed > 0 {
		j.log.Warn().Int("processed", processed).Int("failed", failed).Msg("Daily refresh finished with failures")
	}
	return nil
}

// IndustryJob refreshes the industry tree and its constituent mappings.
type IndustryJob struct {
	syncer StockSyncer
	log    zerolog.Logger
}

func NewIndustryJob(syncer StockSyncer) *IndustryJob {
	return &IndustryJob{syncer: syncer, log: zerolog.Nop()}
}

func (j *IndustryJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

func (j *IndustryJob) Name() string { return "update_industry_info" }

func (j *IndustryJob) Run(ctx context.Context) error {
	if err := j.syncer.RefreshIndustries(ctx); err != nil {
		return fmt.Errorf("failed to refresh industries: %w", err)
	}
	return nil
}

// BackupJob snapshots the databases and ships the archive to object storage.
type BackupJob struct {
	runner BackupRunner
	log    zerolog.Logger
}

func NewBackupJob(runner BackupRunner) *BackupJob {
	return &BackupJob{runner: runner, log: zerolog.Nop()}
}

func (j *BackupJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

func (j *BackupJob) Name() string { return "database_backup" }

func (j *BackupJob) Run(ctx context.Context) error {
	if err := j.runner.Backup(ctx); err != nil {
		return fmt.Errorf("failed to back up databases: %w", err)
	}
	return nil
}
