package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }
func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func TestScheduler_RegisterAndRunNow(t *testing.T) {
	s := New(testConfig())
	job := &countingJob{name: "rebuild"}

	require.NoError(t, s.Every(job, time.Hour))
	assert.ErrorIs(t, s.Every(job, time.Hour), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Every(nil, time.Hour), ErrNilJob)

	res, err := s.RunNow(context.Background(), "rebuild")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), job.runs.Load())

	last, ok := s.LastResult("rebuild")
	require.True(t, ok)
	assert.Equal(t, "rebuild", last.JobName)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNowRecordsFailure(t *testing.T) {
	s := New(testConfig())
	boom := errors.New("boom")
	require.NoError(t, s.Every(&countingJob{name: "bad", err: boom}, time.Hour))

	res, err := s.RunNow(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)
}

func TestScheduler_InvalidCron(t *testing.T) {
	s := New(testConfig())
	job := &countingJob{name: "cron"}

	assert.Error(t, s.Cron(job, "not a cron"))
	// a failed registration frees the name
	require.NoError(t, s.Cron(job, "*/5 * * * *"))
}

func TestScheduler_StartRunsIntervalJobs(t *testing.T) {
	s := New(testConfig())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Every(job, 20*time.Millisecond))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}
