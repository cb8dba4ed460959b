package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

import (
	"github.com/benbjohnson/clock"
)

import (
	"github.com/nanjiek/relay-sync/internal/types"
)

type fakeStore struct {
	value string
	err   error
}

func (f *fakeStore) GetConfig(ctx context.Context, name string) (string, error) {
	return f.value, f.err
}

type fakeProber struct {
	mu     sync.Mutex
	result types.RelayState
	bases  []string
}

func (f *fakeProber) Probe(ctx context.Context, base string) types.RelayState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bases = append(f.bases, base)
	return f.result
}

func (f *fakeProber) set(state types.RelayState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = state
}

type applyCall struct {
	state types.RelayState
	base  string
}

type fakeSync struct {
	mu    sync.Mutex
	calls []applyCall
	err   error
}

func (f *fakeSync) Apply(ctx context.Context, state types.RelayState, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, applyCall{state: state, base: base})
	return nil
}

func (f *fakeSync) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu      sync.Mutex
	count   int
	targets []string
}

func (f *fakeNotifier) NotifyOffline(ctx context.Context, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	f.targets = append(f.targets, target)
}

func (f *fakeNotifier) notifications() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func newController(store *fakeStore, prober *fakeProber, sy *fakeSync, n *fakeNotifier) *Controller {
	return New(store, prober, sy, n, Config{
		DefaultBaseAddress: "http://127.0.0.1:9595",
		Interval:           time.Minute,
		WatchedDomains:     []string{"twitch.tv"},
	}, clock.NewMock())
}

func TestReconcileEdgeTriggeredNotification(t *testing.T) {
	prober := &fakeProber{result: types.StateOffline}
	notifier := &fakeNotifier{}
	c := newController(&fakeStore{}, prober, &fakeSync{}, notifier)

	// three consecutive offline observations -> exactly one notification
	for i := 0; i < 3; i++ {
		if got := c.Reconcile(context.Background(), ""); got != types.StateOffline {
			t.Fatalf("reconcile returned %s", got)
		}
	}
	if notifier.notifications() != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", notifier.notifications())
	}
}

func TestReconcileUnknownToOfflineFires(t *testing.T) {
	prober := &fakeProber{result: types.StateOffline}
	notifier := &fakeNotifier{}
	c := newController(&fakeStore{}, prober, &fakeSync{}, notifier)

	if c.State() != types.StateUnknown {
		t.Fatalf("initial state = %s, want unknown", c.State())
	}
	c.Reconcile(context.Background(), "tab-7")
	if notifier.notifications() != 1 {
		t.Fatalf("first observed Offline should notify")
	}
	notifier.mu.Lock()
	target := notifier.targets[0]
	notifier.mu.Unlock()
	if target != "tab-7" {
		t.Fatalf("notification target = %q", target)
	}
}

func TestReconcileOnlineNeverNotifies(t *testing.T) {
	prober := &fakeProber{result: types.StateOnline}
	notifier := &fakeNotifier{}
	c := newController(&fakeStore{}, prober, &fakeSync{}, notifier)

	c.Reconcile(context.Background(), "")
	c.Reconcile(context.Background(), "")
	if notifier.notifications() != 0 {
		t.Fatalf("online reconciles must not notify")
	}
}

func TestReconcileOfflineOnlineOfflineNotifiesTwice(t *testing.T) {
	prober := &fakeProber{result: types.StateOffline}
	notifier := &fakeNotifier{}
	c := newController(&fakeStore{}, prober, &fakeSync{}, notifier)

	c.Reconcile(context.Background(), "")
	prober.set(types.StateOnline)
	c.Reconcile(context.Background(), "")
	prober.set(types.StateOffline)
	c.Reconcile(context.Background(), "")

	if notifier.notifications() != 2 {
		t.Fatalf("expected 2 notifications across 2 offline edges, got %d", notifier.notifications())
	}
}

func TestReconcileAlwaysReappliesRules(t *testing.T) {
	prober := &fakeProber{result: types.StateOnline}
	sy := &fakeSync{}
	c := newController(&fakeStore{}, prober, sy, &fakeNotifier{})

	c.Reconcile(context.Background(), "")
	c.Reconcile(context.Background(), "")
	c.Reconcile(context.Background(), "")
	// same observed state every time, Apply still runs every time
	if sy.callCount() != 3 {
		t.Fatalf("expected 3 apply calls, got %d", sy.callCount())
	}
}

func TestReconcileInstallFailureHoldsState(t *testing.T) {
	prober := &fakeProber{result: types.StateOffline}
	sy := &fakeSync{err: errors.New("installer down")}
	notifier := &fakeNotifier{}
	c := newController(&fakeStore{}, prober, sy, notifier)

	if got := c.Reconcile(context.Background(), ""); got != types.StateUnknown {
		t.Fatalf("failed reconcile should report the held state, got %s", got)
	}
	if c.State() != types.StateUnknown {
		t.Fatalf("held state advanced past a failed install: %s", c.State())
	}
	if notifier.notifications() != 0 {
		t.Fatalf("no notification on a failed transition")
	}

	// next trigger retries the transition naturally
	sy.err = nil
	c.Reconcile(context.Background(), "")
	if c.State() != types.StateOffline {
		t.Fatalf("state = %s after retry", c.State())
	}
	if notifier.notifications() != 1 {
		t.Fatalf("expected the retried transition to notify once")
	}
}

func TestBaseAddressFallbackAndNormalization(t *testing.T) {
	prober := &fakeProber{result: types.StateOnline}
	sy := &fakeSync{}
	store := &fakeStore{err: errors.New("store unavailable")}
	c := newController(store, prober, sy, &fakeNotifier{})

	// read failure -> default address
	c.Reconcile(context.Background(), "")
	if sy.calls[0].base != "http://127.0.0.1:9595" {
		t.Fatalf("base = %q, want default", sy.calls[0].base)
	}

	// schemeless configured value -> http:// prepended, trailing slash stripped
	store.err = nil
	store.value = "example.com:9595/"
	c.Reconcile(context.Background(), "")
	if sy.calls[1].base != "http://example.com:9595" {
		t.Fatalf("base = %q, want normalized", sy.calls[1].base)
	}
}

func TestConcurrentReconcilesNotifyOnce(t *testing.T) {
	prober := &fakeProber{result: types.StateOffline}
	notifier := &fakeNotifier{}
	c := newController(&fakeStore{}, prober, &fakeSync{}, notifier)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Reconcile(context.Background(), "")
		}()
	}
	wg.Wait()

	if notifier.notifications() != 1 {
		t.Fatalf("racing reconciles produced %d notifications, want 1", notifier.notifications())
	}
	if c.State() != types.StateOffline {
		t.Fatalf("state = %s", c.State())
	}
}

func TestStartRunsPeriodicTrigger(t *testing.T) {
	prober := &fakeProber{result: types.StateOnline}
	sy := &fakeSync{}
	mock := clock.NewMock()
	c := New(&fakeStore{}, prober, sy, &fakeNotifier{}, Config{
		DefaultBaseAddress: "http://127.0.0.1:9595",
		Interval:           time.Minute,
	}, mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	waitCalls := func(n int) {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if sy.callCount() >= n {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("expected %d reconciles, got %d", n, sy.callCount())
	}
	tick := func(n int) {
		// keep nudging the mock clock until the ticker fires
		for i := 0; i < 100 && sy.callCount() < n; i++ {
			time.Sleep(5 * time.Millisecond)
			mock.Add(time.Minute)
		}
		waitCalls(n)
	}

	waitCalls(1) // startup pass
	tick(2)
	tick(3)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not stop with the context")
	}
}

func TestWatchConfigReconcilesOnAddressChange(t *testing.T) {
	prober := &fakeProber{result: types.StateOnline}
	sy := &fakeSync{}
	c := newController(&fakeStore{}, prober, sy, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan string)
	done := make(chan struct{})
	go func() {
		c.WatchConfig(ctx, changes)
		close(done)
	}()

	changes <- "base_address"
	changes <- "unrelated_key"
	changes <- "base_address"
	cancel()
	<-done

	if sy.callCount() != 2 {
		t.Fatalf("expected 2 reconciles from config changes, got %d", sy.callCount())
	}
}

func TestHandleNavigationFiltersDomains(t *testing.T) {
	prober := &fakeProber{result: types.StateOnline}
	sy := &fakeSync{}
	c := newController(&fakeStore{}, prober, sy, &fakeNotifier{})

	if c.HandleNavigation(context.Background(), types.NavigationEvent{URL: "https://example.com/watch"}) {
		t.Fatalf("unwatched domain should be ignored")
	}
	if !c.HandleNavigation(context.Background(), types.NavigationEvent{URL: "https://www.twitch.tv/somechannel"}) {
		t.Fatalf("watched subdomain should trigger")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sy.callCount() < 1 {
		time.Sleep(time.Millisecond)
	}
	if sy.callCount() != 1 {
		t.Fatalf("expected exactly 1 reconcile from navigation, got %d", sy.callCount())
	}
}
