package approval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"polish/internal/decisionlog"
	"polish/internal/events"
)

func waitPending(t *testing.T, gate *Gate, checkpointID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pending, ok := gate.Status(checkpointID); ok && pending {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("checkpoint %s never became pending", checkpointID)
}

func TestSubmitResolvesRequest(t *testing.T) {
	gate := NewGate(nil, nil, nil)

	type result struct {
		dec Decision
		err error
	}
	done := make(chan result, 1)
	go func() {
		dec, err := gate.Request(context.Background(), Request{
			CheckpointID: "cp-1",
			RunID:        "run-1",
		}, 0)
		done <- result{dec, err}
	}()

	waitPending(t, gate, "cp-1")
	err := gate.Submit(context.Background(), Decision{
		CheckpointID: "cp-1",
		Action:       ActionApprove,
		Feedback:     "looks good",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Request: %v", res.err)
	}
	if res.dec.Action != ActionApprove || res.dec.Feedback != "looks good" {
		t.Fatalf("decision = %+v", res.dec)
	}

	pending, ok := gate.Status("cp-1")
	if !ok || pending {
		t.Fatalf("status pending=%v ok=%v, want resolved and known", pending, ok)
	}
}

func TestConcurrentSubmissionsAcceptExactlyOne(t *testing.T) {
	gate := NewGate(nil, nil, nil)

	decCh := make(chan Decision, 1)
	go func() {
		dec, _ := gate.Request(context.Background(), Request{CheckpointID: "cp-race", RunID: "run-1"}, 0)
		decCh <- dec
	}()
	waitPending(t, gate, "cp-race")

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = gate.Submit(context.Background(), Decision{
				CheckpointID: "cp-race",
				Action:       ActionApprove,
				Feedback:     fmt.Sprintf("writer-%d", i),
			})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrAlreadyResolved):
		default:
			t.Fatalf("writer %d: unexpected error %v", i, err)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted %d submissions, want exactly 1", accepted)
	}

	dec := <-decCh
	if dec.Action != ActionApprove {
		t.Fatalf("decision action = %s", dec.Action)
	}
}

func TestTimeoutResolvesWithSyntheticSkip(t *testing.T) {
	gate := NewGate(nil, nil, nil)

	dec, err := gate.Request(context.Background(), Request{CheckpointID: "cp-timeout", RunID: "run-1"}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if dec.Action != ActionSkip || !dec.Synthetic || dec.Reason != "timeout" {
		t.Fatalf("decision = %+v, want synthetic skip with reason timeout", dec)
	}

	err = gate.Submit(context.Background(), Decision{CheckpointID: "cp-timeout", Action: ActionApprove})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("late submit err = %v, want ErrAlreadyResolved", err)
	}
}

func TestCancellationResolvesWithSyntheticReject(t *testing.T) {
	gate := NewGate(nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	dec, err := gate.Request(ctx, Request{CheckpointID: "cp-cancel", RunID: "run-1"}, 0)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if dec.Action != ActionReject || !dec.Synthetic || dec.Reason != "canceled" {
		t.Fatalf("decision = %+v, want synthetic reject with reason canceled", dec)
	}
}

func TestSubmitUnknownCheckpointIsAbandoned(t *testing.T) {
	gate := NewGate(nil, nil, nil)
	err := gate.Submit(context.Background(), Decision{CheckpointID: "never-existed", Action: ActionApprove})
	if !errors.Is(err, ErrAbandoned) {
		t.Fatalf("err = %v, want ErrAbandoned", err)
	}
}

func TestResolvedCheckpointDropsPayload(t *testing.T) {
	gate := NewGate(nil, nil, nil)

	go func() {
		gate.Request(context.Background(), Request{
			CheckpointID: "cp-payload",
			RunID:        "run-1",
			Phase:        "baseline",
			Iteration:    2,
		}, 0)
	}()
	waitPending(t, gate, "cp-payload")

	if err := gate.Submit(context.Background(), Decision{CheckpointID: "cp-payload", Action: ActionSkip}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	for _, req := range gate.Pending() {
		if req.CheckpointID == "cp-payload" {
			t.Fatal("resolved checkpoint still listed as pending")
		}
	}
}

func TestDecisionLogBacksRestartedGate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.sqlite")
	log, err := decisionlog.Open(path)
	if err != nil {
		t.Fatalf("open decision log: %v", err)
	}
	defer log.Close()

	gate := NewGate(log, nil, nil)
	go func() {
		gate.Request(context.Background(), Request{CheckpointID: "cp-durable", RunID: "run-1"}, 0)
	}()
	waitPending(t, gate, "cp-durable")
	if err := gate.Submit(context.Background(), Decision{CheckpointID: "cp-durable", Action: ActionApprove}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// A fresh gate over the same log knows the decision was stored.
	restarted := NewGate(log, nil, nil)
	err = restarted.Submit(context.Background(), Decision{CheckpointID: "cp-durable", Action: ActionReject})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved from stored decision", err)
	}
}

func TestRequestPublishesLifecycleEvents(t *testing.T) {
	broker := events.NewBroker()
	sub, cancel := broker.Subscribe()
	defer cancel()

	gate := NewGate(nil, broker, nil)
	go func() {
		gate.Request(context.Background(), Request{CheckpointID: "cp-events", RunID: "run-1"}, 0)
	}()
	waitPending(t, gate, "cp-events")
	if err := gate.Submit(context.Background(), Decision{CheckpointID: "cp-events", Action: ActionApprove}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-sub:
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("saw events %v, want required then resolved", got)
		}
	}
	if got[0] != events.TypeApprovalRequired || got[1] != events.TypeApprovalResolved {
		t.Fatalf("events = %v", got)
	}
}

func TestCancelRunRejectsAllPending(t *testing.T) {
	gate := NewGate(nil, nil, nil)

	decs := make(chan Decision, 2)
	for _, id := range []string{"cp-a", "cp-b"} {
		id := id
		go func() {
			dec, _ := gate.Request(context.Background(), Request{CheckpointID: id, RunID: "run-x"}, 0)
			decs <- dec
		}()
		waitPending(t, gate, id)
	}

	gate.CancelRun("run-x")

	for i := 0; i < 2; i++ {
		select {
		case dec := <-decs:
			if dec.Action != ActionReject || !dec.Synthetic {
				t.Fatalf("decision = %+v, want synthetic reject", dec)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending checkpoint never resolved after CancelRun")
		}
	}
}
