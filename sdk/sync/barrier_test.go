package sync

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestBarrier(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := startMemoryServer(t)
	client := newTestClient(t, url, randomRunParams())

	state := "yoda"
	done := make(chan error, 1)
	go func() { done <- client.Barrier(ctx, state, 10) }()

	for i := 1; i <= 9; i++ {
		if curr, err := client.SignalEntry(ctx, state); err != nil {
			t.Fatal(err)
		} else if curr != int64(i) {
			t.Fatalf("expected current count to be: %d; was: %d", i, curr)
		}
	}

	select {
	case err := <-done:
		t.Fatalf("barrier returned before reaching its target: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	if _, err := client.SignalEntry(ctx, state); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestBarrierBeyondTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := startMemoryServer(t)
	client := newTestClient(t, url, randomRunParams())

	state := "yoda"
	for i := 1; i <= 20; i++ {
		if curr, err := client.SignalEntry(ctx, state); err != nil {
			t.Fatal(err)
		} else if curr != int64(i) {
			t.Fatalf("expected current count to be: %d; was: %d", i, curr)
		}
	}

	if err := client.Barrier(ctx, state, 10); err != nil {
		t.Fatal(err)
	}
}

func TestBarrierZero(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := startMemoryServer(t)
	client := newTestClient(t, url, randomRunParams())

	if err := client.Barrier(ctx, "apollo", 0); err != nil {
		t.Fatal(err)
	}
}

func TestBarrierCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := startMemoryServer(t)
	client := newTestClient(t, url, randomRunParams())

	bctx, bcancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- client.Barrier(bctx, "yoda", 10) }()

	time.AfterFunc(100*time.Millisecond, bcancel)
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got: %v", err)
	}

	// the client stays usable.
	if _, err := client.SignalEntry(ctx, "yoda"); err != nil {
		t.Fatal(err)
	}
}

func TestSignalEntryPermutation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := startMemoryServer(t)
	rp := randomRunParams()

	// half of the participants share one connection.
	const n = 20
	shared := newTestClient(t, url, rp)

	seqs := make([]int, n)
	grp, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		client := shared
		if i%2 == 0 {
			client = newTestClient(t, url, rp)
		}
		grp.Go(func() error {
			seq, err := client.SignalAndWait(gctx, "initialized_global", n)
			seqs[i] = int(seq)
			return err
		})
	}
	if err := grp.Wait(); err != nil {
		t.Fatal(err)
	}

	sort.Ints(seqs)
	for i, seq := range seqs {
		if seq != i+1 {
			t.Fatalf("sequence numbers are not a permutation of 1..%d: %v", n, seqs)
		}
	}
}

func TestCloseUnblocksBarrier(t *testing.T) {
	url := startMemoryServer(t)

	client, err := NewClient(context.Background(), testLogger(), url, randomRunParams())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- client.Barrier(context.Background(), "never", 2) }()

	time.Sleep(100 * time.Millisecond)
	_ = client.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed; got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("barrier still blocked after close")
	}

	if _, err := client.SignalEntry(context.Background(), "never"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close; got: %v", err)
	}
}
