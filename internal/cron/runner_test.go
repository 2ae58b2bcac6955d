package cronrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRunnerSkipsOverlappingRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(zap.NewNop(), ctx)
	var running, maxRunning, runs int32
	release := make(chan struct{})
	_, err := r.Add("@every 1s", func(context.Context) {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			cur := atomic.LoadInt32(&maxRunning)
			if n <= cur || atomic.CompareAndSwapInt32(&maxRunning, cur, n) {
				break
			}
		}
		atomic.AddInt32(&runs, 1)
		<-release
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Start()
	time.Sleep(3500 * time.Millisecond)
	close(release)
	r.Stop()

	if got := atomic.LoadInt32(&maxRunning); got != 1 {
		t.Fatalf("max concurrent runs=%d want=1", got)
	}
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("runs=%d want=1", got)
	}
}

func TestRunnerPassesBaseContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "base")
	r := New(nil, ctx)
	got := make(chan any, 1)
	if _, err := r.Add("@every 1s", func(c context.Context) {
		select {
		case got <- c.Value(key{}):
		default:
		}
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Start()
	defer r.Stop()
	select {
	case v := <-got:
		if v != "base" {
			t.Fatalf("ctx value=%v want=base", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	r := New(nil, nil)
	if _, err := r.Add("not a spec", func(context.Context) {}); err == nil {
		t.Fatalf("expected parse error")
	}
}
