package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestUploadLimiter_AcquireRelease(t *testing.T) {
	l := NewUploadLimiter(2, time.Second)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if got := l.ActiveCount(); got != i {
			t.Errorf("ActiveCount = %d, want %d", got, i)
		}
	}
	if got := l.Available(); got != 0 {
		t.Errorf("Available = %d, want 0", got)
	}

	l.Release()
	l.Release()
	if got := l.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after release = %d, want 0", got)
	}
	if got := l.Available(); got != 2 {
		t.Errorf("Available after release = %d, want 2", got)
	}
}

func TestUploadLimiter_FullTimesOut(t *testing.T) {
	l := NewUploadLimiter(1, 30*time.Millisecond)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire on empty limiter failed")
	}
	defer l.Release()

	start := time.Now()
	err := l.Acquire(context.Background())
	if !errors.Is(err, ErrTooManyUploads) {
		t.Fatalf("err = %v, want ErrTooManyUploads", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("gave up after %v, want about 30ms", elapsed)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire succeeded on a full limiter")
	}
}

func TestUploadLimiter_ContextCancelled(t *testing.T) {
	l := NewUploadLimiter(1, time.Minute)
	l.TryAcquire()
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestUploadLimiter_UnblocksWaiter(t *testing.T) {
	l := NewUploadLimiter(1, time.Second)
	l.TryAcquire()

	got := make(chan error, 1)
	go func() { got <- l.Acquire(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	l.Release()

	select {
	case err := <-got:
		if err != nil {
			t.Errorf("waiter err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not unblocked by Release")
	}
	l.Release()
}

func TestUploadLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	l := NewUploadLimiter(maxConcurrent, time.Second)

	var (
		wg   sync.WaitGroup
		cur  atomic.Int32
		peak atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer l.Release()

			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > maxConcurrent {
		t.Errorf("peak = %d, want <= %d", got, maxConcurrent)
	}
	if l.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after all released", l.ActiveCount())
	}
}

func TestUploadLimiter_WaitForDrain(t *testing.T) {
	l := NewUploadLimiter(2, time.Second)
	l.TryAcquire()

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain: %v", err)
	}

	l.TryAcquire()
	defer l.Release()
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := l.WaitForDrain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestUploadLimiter_StatusAndDefaults(t *testing.T) {
	l := NewUploadLimiter(0, 0)
	if l.MaxConcurrent() != DefaultMaxConcurrentUploads {
		t.Errorf("MaxConcurrent = %d, want %d", l.MaxConcurrent(), DefaultMaxConcurrentUploads)
	}

	l.TryAcquire()
	defer l.Release()
	want := UploadLimiterStatus{Active: 1, Available: DefaultMaxConcurrentUploads - 1, MaxConcurrent: DefaultMaxConcurrentUploads}
	if got := l.Status(); got != want {
		t.Errorf("Status = %+v, want %+v", got, want)
	}
}
