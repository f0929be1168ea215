package workers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/internal/workers"
	"github.com/quantdesk/portfolio-engine/pkg/types"
)

func testPool(poolSize, queueSize int) *workers.Pool {
	return workers.NewPool(zap.NewNop(), types.WorkersConfig{
		PoolSize:    poolSize,
		QueueSize:   queueSize,
		JobTimeout:  time.Minute,
		StopTimeout: 5 * time.Second,
	})
}

func TestPoolRunsTasks(t *testing.T) {
	pool := testPool(2, 16)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := pool.SubmitFunc(func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	wg.Wait()

	if ran != 10 {
		t.Errorf("Expected 10 tasks run, got %d", ran)
	}
	stats := pool.Stats()
	if stats.TasksSubmitted != 10 || stats.TasksCompleted != 10 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestPoolCountsFailures(t *testing.T) {
	pool := testPool(1, 4)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	if err := pool.SubmitFunc(func(ctx context.Context) error {
		defer wg.Done()
		return errors.New("boom")
	}); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	// The counter update races the wg signal only within the same task, so
	// poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pool.Stats().TasksFailed == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Expected 1 failed task, got %+v", pool.Stats())
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool := testPool(1, 4)
	pool.Start()
	defer pool.Stop()

	if err := pool.SubmitFunc(func(ctx context.Context) error {
		panic("worker panic")
	}); err != nil {
		t.Fatal(err)
	}

	// A follow-up task still runs on the same worker.
	var wg sync.WaitGroup
	wg.Add(1)
	if err := pool.SubmitFunc(func(ctx context.Context) error {
		defer wg.Done()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pool.Stats().PanicsRecovered == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Expected 1 recovered panic, got %+v", pool.Stats())
}

func TestPoolQueueFull(t *testing.T) {
	pool := testPool(1, 1)
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	// Occupy the single worker, then fill the single queue slot.
	_ = pool.SubmitFunc(func(ctx context.Context) error {
		<-release
		return nil
	})

	var err error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		err = pool.SubmitFunc(func(ctx context.Context) error { <-release; return nil })
		if err != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	if !errors.Is(err, workers.ErrQueueFull) {
		t.Fatalf("Expected queue full, got %v", err)
	}
}

func TestPoolStopped(t *testing.T) {
	pool := testPool(1, 4)
	pool.Start()
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := pool.SubmitFunc(func(ctx context.Context) error { return nil }); !errors.Is(err, workers.ErrPoolStopped) {
		t.Fatalf("Expected pool stopped, got %v", err)
	}
	if pool.IsRunning() {
		t.Error("Pool should report stopped")
	}
}

func TestPoolTaskContextCancelledOnStop(t *testing.T) {
	pool := testPool(1, 4)
	pool.Start()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	_ = pool.SubmitFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	<-started
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Task context was not cancelled on stop")
	}
}
