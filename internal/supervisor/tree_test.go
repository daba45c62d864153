// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeService counts starts and can be told to fail its first N runs.
type fakeService struct {
	name      string
	starts    atomic.Int32
	failsLeft atomic.Int32
}

func newFakeService(name string) *fakeService {
	return &fakeService{name: name}
}

func (f *fakeService) Serve(ctx context.Context) error {
	f.starts.Add(1)
	if f.failsLeft.Add(-1) >= 0 {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeService) String() string { return f.name }

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{})

	if tree.Root() == nil {
		t.Fatal("root supervisor is nil")
	}
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %f", tree.config.FailureThreshold)
	}
	if tree.config.FailureDecay != 30.0 {
		t.Errorf("FailureDecay = %f", tree.config.FailureDecay)
	}
	if tree.config.FailureBackoff != 15*time.Second {
		t.Errorf("FailureBackoff = %v", tree.config.FailureBackoff)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", tree.config.ShutdownTimeout)
	}
}

func TestTreeStartsServicesInBothLayers(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})

	msgSvc := newFakeService("messaging-service")
	apiSvc := newFakeService("api-service")
	tree.AddMessagingService(msgSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down")
	}

	if msgSvc.starts.Load() < 1 {
		t.Error("messaging service was not started")
	}
	if apiSvc.starts.Load() < 1 {
		t.Error("api service was not started")
	}
}

func TestTreeRestartsFailingService(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	flaky := newFakeService("flaky")
	flaky.failsLeft.Store(2)
	stable := newFakeService("stable")

	tree.AddMessagingService(flaky)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := tree.ServeBackground(ctx)
	time.Sleep(250 * time.Millisecond)
	cancel()
	<-errCh

	if got := flaky.starts.Load(); got < 3 {
		t.Errorf("flaky service starts = %d, want at least 3", got)
	}
	if stable.starts.Load() < 1 {
		t.Error("stable service was not started")
	}
}

func TestDefaultTreeConfig(t *testing.T) {
	config := DefaultTreeConfig()
	if config.FailureThreshold != 5.0 || config.FailureDecay != 30.0 {
		t.Errorf("failure policy = %+v", config)
	}
	if config.FailureBackoff != 15*time.Second || config.ShutdownTimeout != 10*time.Second {
		t.Errorf("timing policy = %+v", config)
	}
}
