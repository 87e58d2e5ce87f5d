package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/service/internal/logger"
	"github.com/mediavault/service/internal/media"
	"github.com/mediavault/service/internal/storage"
)

func newTestPool(t *testing.T, cfg PoolConfig) *Pool {
	t.Helper()
	cfg.Logger = logger.Discard()
	p := NewPool(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestPoolRunsDispatchedJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
		wg   sync.WaitGroup
	)
	wg.Add(3)
	p := newTestPool(t, PoolConfig{
		Workers: 2,
		Handler: func(_ context.Context, job Job) error {
			defer wg.Done()
			mu.Lock()
			seen = append(seen, job.ID)
			mu.Unlock()
			return nil
		},
	})
	p.Start()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.Dispatch(context.Background(), Job{ID: id}))
	}
	waitGroup(t, &wg)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var (
		running, peak atomic.Int32
		wg            sync.WaitGroup
	)
	const jobs = 12
	wg.Add(jobs)
	p := newTestPool(t, PoolConfig{
		Workers:   3,
		QueueSize: jobs,
		Handler: func(_ context.Context, _ Job) error {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		},
	})
	for i := 0; i < jobs; i++ {
		require.NoError(t, p.Dispatch(context.Background(), Job{}))
	}
	p.Start()
	waitGroup(t, &wg)

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestPoolDispatchDoesNotBlockWhenFull(t *testing.T) {
	p := newTestPool(t, PoolConfig{QueueSize: 1, Handler: func(context.Context, Job) error { return nil }})

	require.NoError(t, p.Dispatch(context.Background(), Job{ID: "1"}))
	err := p.Dispatch(context.Background(), Job{ID: "2"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	p := newTestPool(t, PoolConfig{Handler: func(context.Context, Job) error { return nil }})
	p.Start()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.ErrorIs(t, p.Dispatch(context.Background(), Job{}), ErrPoolClosed)
}

func TestPoolShutdownWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	p := newTestPool(t, PoolConfig{
		Workers: 1,
		Handler: func(context.Context, Job) error {
			close(started)
			<-release
			finished.Store(true)
			return nil
		},
	})
	p.Start()
	require.NoError(t, p.Dispatch(context.Background(), Job{}))
	<-started

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, finished.Load())
}

func TestPoolShutdownDeadlineCancelsJobs(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	p := newTestPool(t, PoolConfig{
		Workers: 1,
		Handler: func(ctx context.Context, _ Job) error {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	})
	p.Start()
	require.NoError(t, p.Dispatch(context.Background(), Job{}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running job was not cancelled")
	}
}

func TestPoolAppliesJobTimeout(t *testing.T) {
	errs := make(chan error, 1)
	p := newTestPool(t, PoolConfig{
		Timeout: 10 * time.Millisecond,
		Handler: func(ctx context.Context, _ Job) error {
			<-ctx.Done()
			errs <- ctx.Err()
			return ctx.Err()
		},
	})
	p.Start()
	require.NoError(t, p.Dispatch(context.Background(), Job{}))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("job timeout not applied")
	}
}

func TestPoolSurvivesPanicsAndErrors(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	p := newTestPool(t, PoolConfig{
		Workers: 1,
		Handler: func(_ context.Context, job Job) error {
			defer wg.Done()
			switch job.ID {
			case "panic":
				panic("bad input")
			case "error":
				return errors.New("transcode failed")
			}
			return nil
		},
	})
	p.Start()
	for _, id := range []string{"panic", "error", "ok"} {
		require.NoError(t, p.Dispatch(context.Background(), Job{ID: id}))
	}
	waitGroup(t, &wg)
}

func TestExecuteRecoversPanic(t *testing.T) {
	err := execute(context.Background(), func(context.Context, Job) error { panic("boom") }, Job{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Error(t, execute(context.Background(), nil, Job{}))
}

func TestNewCompressionJob(t *testing.T) {
	src := storage.StoredFile{Path: "/u/a_clip.mp4", Key: "a_clip.mp4"}
	dst := storage.StoredFile{Path: "/u/compressed_bclip.mp4", Key: "compressed_bclip.mp4"}

	job := NewCompressionJob("upload-1", src, dst, media.KindVideo, 20)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, ActionCompress, job.Action)
	assert.Equal(t, "upload-1", job.UploadID)
	assert.Equal(t, src.Path, job.SourcePath)
	assert.Equal(t, dst.Key, job.TargetKey)
	assert.Equal(t, 200, media.VideoBitrateKbps(job.Parameter))

	mirror := NewMirrorJob("upload-1", src)
	assert.Equal(t, ActionMirror, mirror.Action)
	assert.Empty(t, mirror.TargetPath)
	assert.NotEqual(t, job.ID, mirror.ID)
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}
}
