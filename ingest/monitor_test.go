package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"steam-sales-notifier/pkg/sales"
)

type fakeSource struct {
	mu       sync.Mutex
	batches  [][]sales.Listing
	expected []int
	errs     []error
	calls    int
}

func (s *fakeSource) Scan(_ context.Context) ([]sales.Listing, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.batches) {
		i = len(s.batches) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.batches[i], s.expected[i], err
}

type fakeCatalog struct {
	mu       sync.Mutex
	snapshot []sales.Listing
	replaces int
}

func (c *fakeCatalog) Listings(_ context.Context) ([]sales.Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sales.Listing, len(c.snapshot))
	copy(out, c.snapshot)
	return out, nil
}

func (c *fakeCatalog) ReplaceAll(_ context.Context, listings []sales.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = append([]sales.Listing(nil), listings...)
	c.replaces++
	return nil
}

type fakeRegistry struct {
	general []int64
	watches []sales.Watch
}

func (r *fakeRegistry) GeneralSubscribers(_ context.Context) ([]int64, error) {
	return r.general, nil
}

func (r *fakeRegistry) Watches(_ context.Context) ([]sales.Watch, error) {
	return r.watches, nil
}

type fakeAlerter struct {
	mu      sync.Mutex
	byChat  map[int64][]sales.Listing
	batches int
}

func (a *fakeAlerter) Enqueue(chatID int64, listings []sales.Listing) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.byChat == nil {
		a.byChat = make(map[int64][]sales.Listing)
	}
	a.byChat[chatID] = append(a.byChat[chatID], listings...)
	a.batches++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCycleColdStartSuppressesAlerts(t *testing.T) {
	hades := sales.Listing{Title: "Hades", Link: "https://store.steampowered.com/app/1145360"}

	source := &fakeSource{batches: [][]sales.Listing{{hades}}, expected: []int{1}}
	catalog := &fakeCatalog{}
	alerter := &fakeAlerter{}
	m := NewMonitor(source, catalog, &fakeRegistry{general: []int64{7}}, alerter, testLogger(), Options{})

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle() = %v, want nil", err)
	}
	if catalog.replaces != 1 {
		t.Errorf("snapshot replaced %d times, want 1", catalog.replaces)
	}
	if alerter.batches != 0 {
		t.Errorf("alerter received %d batches on cold start, want 0", alerter.batches)
	}
}

func TestCycleAlertsOnlyOnNewListings(t *testing.T) {
	hades := sales.Listing{Title: "Hades", Link: "https://store.steampowered.com/app/1145360"}
	celeste := sales.Listing{Title: "Celeste", Link: "https://store.steampowered.com/app/504230"}

	source := &fakeSource{
		batches:  [][]sales.Listing{{hades}, {hades, celeste}},
		expected: []int{1, 2},
	}
	catalog := &fakeCatalog{}
	alerter := &fakeAlerter{}
	m := NewMonitor(source, catalog, &fakeRegistry{general: []int64{7}}, alerter, testLogger(), Options{})

	for i := 0; i < 2; i++ {
		if err := m.Cycle(context.Background()); err != nil {
			t.Fatalf("Cycle() #%d = %v, want nil", i+1, err)
		}
	}

	got := alerter.byChat[7]
	if len(got) != 1 {
		t.Fatalf("chat 7 received %d listings, want 1", len(got))
	}
	if got[0].Title != "Celeste" {
		t.Errorf("chat 7 received %q, want Celeste", got[0].Title)
	}
}

func TestCycleRejectedScanLeavesSnapshotIntact(t *testing.T) {
	full := makeBatch(100)
	short := makeBatch(50)

	source := &fakeSource{
		batches:  [][]sales.Listing{full, short},
		expected: []int{100, 100},
	}
	catalog := &fakeCatalog{}
	alerter := &fakeAlerter{}
	m := NewMonitor(source, catalog, &fakeRegistry{}, alerter, testLogger(), Options{})

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("first Cycle() = %v, want nil", err)
	}

	err := m.Cycle(context.Background())
	if !IsReject(err) {
		t.Fatalf("second Cycle() = %v, want reject", err)
	}
	if catalog.replaces != 1 {
		t.Errorf("snapshot replaced %d times, want 1 (rejected batch must not commit)", catalog.replaces)
	}
	if len(catalog.snapshot) != 100 {
		t.Errorf("snapshot holds %d listings after reject, want 100", len(catalog.snapshot))
	}
}

func TestCycleSourceFailureTreatedAsReject(t *testing.T) {
	source := &fakeSource{
		batches:  [][]sales.Listing{nil},
		expected: []int{-1},
		errs:     []error{errors.New("connection reset")},
	}
	catalog := &fakeCatalog{}
	m := NewMonitor(source, catalog, &fakeRegistry{}, &fakeAlerter{}, testLogger(), Options{})

	err := m.Cycle(context.Background())
	if !IsReject(err) {
		t.Fatalf("Cycle() = %v, want reject on source failure", err)
	}
	if catalog.replaces != 0 {
		t.Errorf("snapshot replaced %d times after source failure, want 0", catalog.replaces)
	}
}

func TestRunBackoffAfterReject(t *testing.T) {
	full := makeBatch(100)
	short := makeBatch(10)

	source := &fakeSource{
		batches:  [][]sales.Listing{full, short, full},
		expected: []int{100, 100, 100},
	}
	catalog := &fakeCatalog{}
	m := NewMonitor(source, catalog, &fakeRegistry{}, &fakeAlerter{}, testLogger(), Options{
		Interval: 30 * time.Minute,
		Backoff:  time.Minute,
	})

	var mu sync.Mutex
	var delays []time.Duration
	fired := make(chan struct{}, 8)
	m.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		delays = append(delays, d)
		n := len(delays)
		mu.Unlock()
		fired <- struct{}{}

		ch := make(chan time.Time, 1)
		if n < 3 {
			ch <- time.Now()
		}
		return ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for scan cycles")
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{30 * time.Minute, time.Minute, 30 * time.Minute}
	if len(delays) != len(want) {
		t.Fatalf("observed %d delays, want %d", len(delays), len(want))
	}
	for i, d := range delays {
		if d != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, d, want[i])
		}
	}
}
