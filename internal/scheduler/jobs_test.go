package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketd/internal/calendar"
)

type fakeSyncer struct {
	basicCalls    int
	dailyCalls    int
	industryCalls int
	err           error
	failed        int
}

func (f *fakeSyncer) RefreshBasicInfo(ctx context.Context) (int, int, error) {
	f.basicCalls++
	return 10, f.failed, f.err
}

func (f *fakeSyncer) RefreshDailyBars(ctx context.Context) (int, int, error) {
	f.dailyCalls++
	return 10, f.failed, f.err
}

func (f *fakeSyncer) RefreshIndustries(ctx context.Context) error {
	f.industryCalls++
	return f.err
}

type fakeBackupRunner struct {
	calls int
	err   error
}

func (f *fakeBackupRunner) Backup(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestJobNames(t *testing.T) {
	syncer := &fakeSyncer{}
	assert.Equal(t, "update_stock_basic_info", NewBasicInfoJob(syncer).Name())
	assert.Equal(t, "update_stock_daily", NewDailyBarsJob(syncer).Name())
	assert.Equal(t, "update_industry_info", NewIndustryJob(syncer).Name())
	assert.Equal(t, "database_backup", NewBackupJob(&fakeBackupRunner{}).Name())
}

func TestBasicInfoJob(t *testing.T) {
	syncer := &fakeSyncer{}
	job := NewBasicInfoJob(syncer)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, syncer.basicCalls)

	syncer.err = errors.New("upstream down")
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to refresh stock basic info")
}

func TestBasicInfoJobPartialFailuresAreNotErrors(t *testing.T) {
	syncer := &fakeSyncer{failed: 3}
	job := NewBasicInfoJob(syncer)

	require.NoError(t, job.Run(context.Background()))
}

func TestDailyBarsJobOnTradingDay(t *testing.T) {
	// A regular Monday with the exchange open.
	monday := time.Date(2024, 3, 4, 16, 0, 0, 0, calendar.Location())
	require.True(t, calendar.IsTradingDay(monday))

	syncer := &fakeSyncer{}
	job := NewDailyBarsJob(syncer)
	job.now = func() time.Time { return monday }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, syncer.dailyCalls)
}

func TestDailyBarsJobSkipsWeekend(t *testing.T) {
	saturday := time.Date(2024, 3, 9, 16, 0, 0, 0, calendar.Location())

	syncer := &fakeSyncer{}
	job := NewDailyBarsJob(syncer)
	job.now = func() time.Time { return saturday }

	require.NoError(t, job.Run(context.Background()))
	assert.Zero(t, syncer.dailyCalls)
}

func TestDailyBarsJobSkipsHoliday(t *testing.T) {
	// National Day 2024 falls on a Tuesday.
	holiday := time.Date(2024, 10, 1, 16, 0, 0, 0, calendar.Location())

	syncer := &fakeSyncer{}
	job := NewDailyBarsJob(syncer)
	job.now = func() time.Time { return holiday }

	require.NoError(t, job.Run(context.Background()))
	assert.Zero(t, syncer.dailyCalls)
}

func TestDailyBarsJobError(t *testing.T) {
	monday := time.Date(2024, 3, 4, 16, 0, 0, 0, calendar.Location())

	syncer := &fakeSyncer{err: errors.New("upstream down")}
	job := NewDailyBarsJob(syncer)
	job.now = func() time.Time { return monday }

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to refresh daily bars")
}

func TestIndustryJob(t *testing.T) {
	syncer := &fakeSyncer{}
	job := NewIndustryJob(syncer)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, syncer.industryCalls)

	syncer.err = errors.New("upstream down")
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to refresh industries")
}

func TestBackupJob(t *testing.T) {
	runner := &fakeBackupRunner{}
	job := NewBackupJob(runner)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, runner.calls)

	runner.err = errors.New("bucket unreachable")
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to back up databases")
}
