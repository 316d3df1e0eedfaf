package isearch

import (
	"context"
	"testing"
	"time"
)

func frontierForTest(maxStaged, maxReady, batch int) *Frontier {
	orig := Config.Frontier
	Config.Frontier.MaxStagedURLs = maxStaged
	Config.Frontier.MaxReadyURLs = maxReady
	Config.Frontier.ShuffleBatch = batch
	f := NewFrontier()
	Config.Frontier = orig
	return f
}

func TestFrontierDedup(t *testing.T) {
	f := frontierForTest(100, 100, 100)

	if !f.Put(MustParse("http://a.com/1")) {
		t.Fatalf("First Put refused")
	}
	if f.Put(MustParse("http://a.com/1")) {
		t.Errorf("Duplicate Put accepted")
	}
	if f.Seen() != 1 {
		t.Errorf("Seen got %v, expected 1", f.Seen())
	}
}

func TestFrontierCapacityDrop(t *testing.T) {
	f := frontierForTest(2, 100, 100)

	f.Put(MustParse("http://a.com/1"))
	f.Put(MustParse("http://a.com/2"))
	if f.Put(MustParse("http://a.com/3")) {
		t.Errorf("Put over capacity accepted")
	}
	if f.Dropped() != 1 {
		t.Errorf("Dropped got %v, expected 1", f.Dropped())
	}

	// A dropped URL stays seen and never gets back in, even with room.
	f.Shuffle()
	drainFrontier(t, f, 2)
	f.TaskDone()
	f.TaskDone()
	if f.Put(MustParse("http://a.com/3")) {
		t.Errorf("Dropped URL re-admitted")
	}
	if f.Seen() != 3 {
		t.Errorf("Seen got %v, expected 3", f.Seen())
	}
}

func TestFrontierShuffleInterleaves(t *testing.T) {
	f := frontierForTest(100, 100, 100)

	links := []string{
		"http://a.com/1", "http://a.com/2", "http://a.com/3",
		"http://b.com/1", "http://b.com/2",
		"http://c.com/1",
	}
	for _, l := range links {
		f.Put(MustParse(l))
	}
	f.Shuffle()

	got := drainFrontier(t, f, len(links))
	expect := []string{
		"http://a.com/1", "http://b.com/1", "http://c.com/1",
		"http://a.com/2", "http://b.com/2",
		"http://a.com/3",
	}
	for i := range expect {
		if got[i] != expect[i] {
			t.Errorf("Position %v got %v, expected %v", i, got[i], expect[i])
		}
	}
}

func TestFrontierShuffleBatchLimit(t *testing.T) {
	f := frontierForTest(100, 100, 2)

	f.Put(MustParse("http://a.com/1"))
	f.Put(MustParse("http://a.com/2"))
	f.Put(MustParse("http://b.com/1"))
	f.Shuffle()

	// Only the first two staged urls are in the batch; b.com/1 stays staged
	// until the next pass.
	got := drainFrontier(t, f, 2)
	if got[0] != "http://a.com/1" || got[1] != "http://a.com/2" {
		t.Errorf("Batch got %v", got)
	}

	f.Shuffle()
	got = drainFrontier(t, f, 1)
	if got[0] != "http://b.com/1" {
		t.Errorf("Second pass got %v", got)
	}
}

func TestFrontierIdleAccounting(t *testing.T) {
	f := frontierForTest(100, 100, 100)

	if !f.Idle() {
		t.Fatalf("New frontier not idle")
	}
	f.Put(MustParse("http://a.com/1"))
	if f.Idle() {
		t.Fatalf("Frontier idle with a staged url")
	}
	f.Shuffle()
	drainFrontier(t, f, 1)
	if f.Idle() {
		t.Fatalf("Frontier idle with an in-flight url")
	}

	done := make(chan struct{})
	go func() {
		f.WaitIdle()
		close(done)
	}()
	f.TaskDone()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitIdle did not return after TaskDone")
	}
}

func TestFrontierClose(t *testing.T) {
	f := frontierForTest(100, 100, 100)
	f.Close()

	if f.Put(MustParse("http://a.com/1")) {
		t.Errorf("Put accepted after Close")
	}
	if _, ok := f.Get(context.Background()); ok {
		t.Errorf("Get returned ok after Close")
	}
}

func TestFrontierGetHonorsContext(t *testing.T) {
	f := frontierForTest(100, 100, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := f.Get(ctx); ok {
		t.Errorf("Get returned ok from an empty frontier")
	}
}

func drainFrontier(t *testing.T, f *Frontier, n int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out []string
	for i := 0; i < n; i++ {
		u, ok := f.Get(ctx)
		if !ok {
			t.Fatalf("Get %v of %v failed", i+1, n)
		}
		out = append(out, u.String())
	}
	return out
}
