package workflow_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"fanin/internal/api"
	"fanin/internal/config"
	"fanin/internal/dispatch"
	"fanin/internal/gate"
	"fanin/internal/logging"
	"fanin/internal/notifications"
	"fanin/internal/store"
	"fanin/internal/testsupport"
	"fanin/internal/workflow"
)

type recordingNotifier struct {
	mu       sync.Mutex
	events   []notifications.Event
	payloads []notifications.Payload
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.payloads = append(n.payloads, payload)
	return nil
}

func (n *recordingNotifier) last(event notifications.Event) (notifications.Payload, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i] == event {
			return n.payloads[i], true
		}
	}
	return nil, false
}

type recordingDispatcher struct {
	calls chan dispatch.Request
	err   error
}

func newRecordingDispatcher(err error) *recordingDispatcher {
	return &recordingDispatcher{calls: make(chan dispatch.Request, 16), err: err}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Receipt, error) {
	d.calls <- req
	if d.err != nil {
		return dispatch.Receipt{}, d.err
	}
	return dispatch.Receipt{TicketID: req.TicketID, Reference: "ref-" + req.ItemID, AcceptedAt: time.Now()}, nil
}

type harness struct {
	cfg        *config.Config
	store      *store.Store
	gate       *gate.Gate
	mgr        *workflow.Manager
	notifier   *recordingNotifier
	dispatcher *recordingDispatcher
}

func newHarness(t *testing.T, dispatchErr error, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	h := &harness{cfg: cfg, store: st}
	h.start(t, dispatchErr)
	return h
}

func (h *harness) start(t *testing.T, dispatchErr error) {
	t.Helper()
	g, err := gate.New(h.cfg.Gate.Name, h.cfg.LeaseTTL(), h.store, logging.NewNop(),
		gate.WithExpiryHandler(workflow.TicketExpiryHandler(h.store, logging.NewNop())))
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	h.gate = g
	h.notifier = &recordingNotifier{}
	h.dispatcher = newRecordingDispatcher(dispatchErr)
	h.mgr = workflow.NewManager(h.cfg, h.store, g, logging.NewNop(),
		workflow.WithNotifier(h.notifier),
		workflow.WithDispatcher(h.dispatcher),
	)
	if err := h.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.mgr.Stop)
}

func (h *harness) signal(t *testing.T, batchID, itemID string) workflow.Outcome {
	t.Helper()
	outcome, err := h.mgr.Signal(context.Background(), batchID, itemID, 0)
	if err != nil {
		t.Fatalf("Signal(%s, %s): %v", batchID, itemID, err)
	}
	return outcome
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func sorted(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return out
}

func TestSignalsInAnyOrderCompleteBatch(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithoutDispatch())
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "b1", []string{"a", "b", "c"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	steps := []struct {
		item string
		want workflow.Outcome
	}{
		{"c", workflow.OutcomeAccepted},
		{"a", workflow.OutcomeAccepted},
		{"a", workflow.OutcomeDuplicate},
		{"b", workflow.OutcomeAccepted},
	}
	for _, step := range steps {
		if got := h.signal(t, "b1", step.item); got != step.want {
			t.Fatalf("signal %s: expected %s, got %s", step.item, step.want, got)
		}
	}

	result, err := h.mgr.Await(ctx, "b1", 5*time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if result.Status != string(store.StatusCompleted) {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if got := sorted(result.Completed); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected completed set %v", got)
	}
	if len(result.Pending) != 0 {
		t.Fatalf("expected no pending items, got %v", result.Pending)
	}
	payload, ok := h.notifier.last(notifications.EventBatchCompleted)
	if !ok {
		t.Fatal("expected completion notification")
	}
	if payload["completed"] != 3 || payload["expected"] != 3 {
		t.Fatalf("unexpected notification payload %v", payload)
	}

	if got := h.signal(t, "b1", "a"); got != workflow.OutcomeClosed {
		t.Fatalf("signal after completion: expected closed, got %s", got)
	}
}

func TestWaitWindowTimesOutWithPartialResult(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithoutDispatch())
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "b2", []string{"x", "y"}, 100*time.Millisecond); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if got := h.signal(t, "b2", "x"); got != workflow.OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", got)
	}

	result, err := h.mgr.Await(ctx, "b2", 0)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if result.Status != string(store.StatusTimedOut) {
		t.Fatalf("expected timed_out, got %s", result.Status)
	}
	if !slices.Equal(result.Completed, []string{"x"}) || !slices.Equal(result.Pending, []string{"y"}) {
		t.Fatalf("unexpected partial result completed=%v pending=%v", result.Completed, result.Pending)
	}
	if _, ok := h.notifier.last(notifications.EventBatchTimedOut); !ok {
		t.Fatal("expected timeout notification")
	}
	if got := h.signal(t, "b2", "y"); got != workflow.OutcomeClosed {
		t.Fatalf("late signal: expected closed, got %s", got)
	}
	rec, err := h.store.GetBatch(ctx, "b2")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if rec.CompletedCount != 1 {
		t.Fatalf("late signal changed state: completed=%d", rec.CompletedCount)
	}
}

func TestAwaitTimeoutClosesBatch(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithoutDispatch())
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "b3", []string{"a", "b"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	h.signal(t, "b3", "b")

	start := time.Now()
	result, err := h.mgr.Await(ctx, "b3", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("await took %s", elapsed)
	}
	if result.Status != string(store.StatusTimedOut) {
		t.Fatalf("expected timed_out, got %s", result.Status)
	}
	if !slices.Equal(result.Pending, []string{"a"}) {
		t.Fatalf("expected pending [a], got %v", result.Pending)
	}
}

func TestUnknownItemAndBatchAreNotErrors(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithoutDispatch())
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "b4", []string{"a"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if got := h.signal(t, "b4", "zzz"); got != workflow.OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", got)
	}
	if got := h.signal(t, "missing", "a"); got != workflow.OutcomeUnmatched {
		t.Fatalf("expected unmatched, got %s", got)
	}

	items, err := h.store.ListItems(ctx, "b4")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 || items[0].Completed {
		t.Fatalf("unknown item mutated state: %+v", items)
	}
	rec, err := h.store.GetBatch(ctx, "b4")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if rec.Status != store.StatusRunning {
		t.Fatalf("expected running, got %s", rec.Status)
	}
}

func TestConcurrentDuplicateSignalsAcceptOnce(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithoutDispatch())
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "b5", []string{"a", "b"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	var wg sync.WaitGroup
	outcomes := make(chan workflow.Outcome, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.mgr.Signal(ctx, "b5", "a", 0)
			if err != nil {
				t.Errorf("Signal: %v", err)
				return
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	accepted := 0
	for outcome := range outcomes {
		if outcome == workflow.OutcomeAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted signal, got %d", accepted)
	}
	count, err := h.store.CountCompleted(ctx, "b5")
	if err != nil {
		t.Fatalf("CountCompleted: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 completed, got %d", count)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.mgr.Create(ctx, api.CreateBatchRequest{Items: []string{" ", ""}}); !errors.Is(err, store.ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch, got %v", err)
	}

	resp, err := h.mgr.Create(ctx, api.CreateBatchRequest{Items: []string{"a", "a", "b"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if resp.BatchID == "" {
		t.Fatal("expected generated batch id")
	}
	if resp.ExpectedCount != 2 {
		t.Fatalf("expected duplicates to collapse, got %d", resp.ExpectedCount)
	}

	if _, err := h.mgr.Create(ctx, api.CreateBatchRequest{BatchID: resp.BatchID, Items: []string{"c"}}); !errors.Is(err, store.ErrBatchExists) {
		t.Fatalf("expected ErrBatchExists, got %v", err)
	}

	h.cfg.Batch.MaxItems = 1
	if _, err := h.mgr.Create(ctx, api.CreateBatchRequest{Items: []string{"a", "b"}}); !errors.Is(err, store.ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch for oversized batch, got %v", err)
	}

	h.mgr.Stop()
	if _, err := h.mgr.Create(ctx, api.CreateBatchRequest{Items: []string{"a"}}); !errors.Is(err, workflow.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestRestartResumesRunningBatches(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithoutDispatch())
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "resume", []string{"a", "b"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	h.signal(t, "resume", "a")

	// Completed entirely while no coordinator was running.
	testsupport.NewBatch(t, h.store, "offline", "x")
	if _, err := h.store.MarkCompleted(ctx, "offline", "x", store.Completion{}); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	h.mgr.Stop()
	h.start(t, nil)

	if got := h.signal(t, "resume", "a"); got != workflow.OutcomeDuplicate {
		t.Fatalf("expected duplicate after restart, got %s", got)
	}
	if got := h.signal(t, "resume", "b"); got != workflow.OutcomeAccepted {
		t.Fatalf("expected accepted after restart, got %s", got)
	}
	for _, id := range []string{"resume", "offline"} {
		result, err := h.mgr.Await(ctx, id, 5*time.Second)
		if err != nil {
			t.Fatalf("Await(%s): %v", id, err)
		}
		if result.Status != string(store.StatusCompleted) {
			t.Fatalf("%s: expected completed, got %s", id, result.Status)
		}
	}
}

func TestIngestRoutesCorrelatedSignals(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithoutDispatch())
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "b6", []string{"photo.jpg", "doc.pdf"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	resp, err := h.mgr.Ingest(ctx, api.Signal{
		EventName: "ItemCompleted:b6",
		Payload:   []byte(`{"fileName":"photo.jpg","bytes":2048}`),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if resp.Outcome != string(workflow.OutcomeAccepted) || resp.ItemID != "photo.jpg" {
		t.Fatalf("unexpected response %+v", resp)
	}

	resp, err = h.mgr.Ingest(ctx, api.Signal{EventName: "SomethingElse", ItemID: "doc.pdf"})
	if err != nil {
		t.Fatalf("Ingest unmatched: %v", err)
	}
	if resp.Outcome != string(workflow.OutcomeUnmatched) {
		t.Fatalf("expected unmatched, got %+v", resp)
	}

	resp, err = h.mgr.Ingest(ctx, api.Signal{EventName: "WorkDone:b6", ItemID: "photo.jpg"})
	if err != nil {
		t.Fatalf("Ingest work done: %v", err)
	}
	if resp.Outcome != string(workflow.OutcomeDuplicate) {
		t.Fatalf("work done without ticket: expected duplicate, got %+v", resp)
	}

	result, err := h.mgr.Result(ctx, "b6", true)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.TotalBytes != 2048 {
		t.Fatalf("expected 2048 bytes, got %d", result.TotalBytes)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected item detail, got %+v", result.Items)
	}
}

func TestDispatchLaneHoldsSingleLease(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "b7", []string{"a", "b"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	h.signal(t, "b7", "a")
	h.signal(t, "b7", "b")

	var first dispatch.Request
	select {
	case first = <-h.dispatcher.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("first dispatch never happened")
	}
	select {
	case extra := <-h.dispatcher.calls:
		t.Fatalf("second dispatch %s started while lease held", extra.ItemID)
	case <-time.After(200 * time.Millisecond):
	}

	lease, err := h.gate.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if lease == nil || lease.Holder != first.TicketID {
		t.Fatalf("expected lease held by %s, got %+v", first.TicketID, lease)
	}
	if first.ReportEvent != "WorkDone:b7" {
		t.Fatalf("unexpected report event %q", first.ReportEvent)
	}

	other := "b"
	if first.ItemID == "b" {
		other = "a"
	}
	waiting, err := h.store.GetItem(ctx, "b7", other)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if waiting.DispatchState != store.DispatchQueued {
		t.Fatalf("expected %s queued, got %s", other, waiting.DispatchState)
	}

	outcome, err := h.mgr.WorkDone(ctx, "b7", first.ItemID)
	if err != nil {
		t.Fatalf("WorkDone: %v", err)
	}
	if outcome != workflow.OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", outcome)
	}

	select {
	case second := <-h.dispatcher.calls:
		if second.ItemID != other {
			t.Fatalf("expected %s dispatched next, got %s", other, second.ItemID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued dispatch was not retried after release")
	}

	done, err := h.store.GetItem(ctx, "b7", first.ItemID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if done.DispatchState != store.DispatchDone {
		t.Fatalf("expected done, got %s", done.DispatchState)
	}
}

func TestQueuedDispatchStartsWhenOutsideHolderReleases(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithGateRetryInterval(60))
	ctx := context.Background()

	outside, err := h.gate.TryAcquire(ctx, "other-process")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if _, err := h.mgr.CreateBatch(ctx, "b12", []string{"a"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	h.signal(t, "b12", "a")

	select {
	case req := <-h.dispatcher.calls:
		t.Fatalf("dispatch %s started while gate held elsewhere", req.ItemID)
	case <-time.After(200 * time.Millisecond):
	}

	if err := h.gate.Release(ctx, outside); err != nil {
		t.Fatalf("Release: %v", err)
	}
	select {
	case req := <-h.dispatcher.calls:
		if req.ItemID != "a" {
			t.Fatalf("unexpected dispatch %s", req.ItemID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued dispatch waited for the retry interval instead of the release")
	}
}

func TestDispatchFailureIsRecordedWithoutBlockingBatch(t *testing.T) {
	h := newHarness(t, errors.New("worker unreachable"))
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "b8", []string{"a"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	h.signal(t, "b8", "a")

	result, err := h.mgr.Await(ctx, "b8", 5*time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if result.Status != string(store.StatusCompleted) {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	eventually(t, 5*time.Second, func() bool {
		res, err := h.mgr.Result(ctx, "b8", false)
		return err == nil && res.DispatchErrors["a"] != ""
	})
	eventually(t, 5*time.Second, func() bool {
		_, ok := h.notifier.last(notifications.EventDispatchError)
		return ok
	})
	lease, err := h.gate.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if lease != nil {
		t.Fatalf("expected lease released after failure, got %+v", lease)
	}
	if got := len(h.dispatcher.calls); got != h.cfg.Dispatch.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", h.cfg.Dispatch.MaxAttempts, got)
	}
}

func TestTicketExpiryHandlerMarksTicketExpired(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewBatch(t, st, "b9", "a")
	if _, err := st.MarkCompleted(ctx, "b9", "a", store.Completion{QueueDispatch: true}); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if ok, err := st.ClaimDispatch(ctx, "b9", "a", "ticket-1"); err != nil || !ok {
		t.Fatalf("ClaimDispatch: ok=%v err=%v", ok, err)
	}

	handler := workflow.TicketExpiryHandler(st, logging.NewNop())
	handler(ctx, store.Lease{Name: "worker", Holder: "ticket-1", ID: "lease-1"})

	item, err := st.DispatchByTicket(ctx, "ticket-1")
	if err != nil {
		t.Fatalf("DispatchByTicket: %v", err)
	}
	if item.DispatchState != store.DispatchExpired {
		t.Fatalf("expected expired, got %s", item.DispatchState)
	}
}

func TestStatusCountsBatches(t *testing.T) {
	h := newHarness(t, nil, testsupport.WithoutDispatch())
	ctx := context.Background()

	if _, err := h.mgr.CreateBatch(ctx, "open", []string{"a"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := h.mgr.CreateBatch(ctx, "done", []string{"a"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	h.signal(t, "done", "a")
	if _, err := h.mgr.Await(ctx, "done", 5*time.Second); err != nil {
		t.Fatalf("Await: %v", err)
	}

	status := h.mgr.Status(ctx)
	if !status.Running {
		t.Fatal("expected running")
	}
	if status.ActiveBatches != 1 {
		t.Fatalf("expected 1 active batch, got %d", status.ActiveBatches)
	}
	if status.BatchCounts["running"] != 1 || status.BatchCounts["completed"] != 1 {
		t.Fatalf("unexpected counts %v", status.BatchCounts)
	}

	summaries, err := h.mgr.List(ctx, store.StatusCompleted)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 1 || summaries[0].BatchID != "done" {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
}

func TestManagerRunsOnMemoryStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := store.NewMemoryStore(cfg.Store.CASRetries)
	g, err := gate.New(cfg.Gate.Name, cfg.LeaseTTL(), gate.NewMemoryBackend(), logging.NewNop())
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	dispatcher := newRecordingDispatcher(nil)
	mgr := workflow.NewManager(cfg, st, g, logging.NewNop(),
		workflow.WithNotifier(&recordingNotifier{}),
		workflow.WithDispatcher(dispatcher),
	)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	if _, err := mgr.CreateBatch(ctx, "mem", []string{"a", "b"}, time.Minute); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	for _, item := range []string{"b", "a"} {
		if outcome, err := mgr.Signal(ctx, "mem", item, 10); err != nil || outcome != workflow.OutcomeAccepted {
			t.Fatalf("Signal(%s): outcome=%s err=%v", item, outcome, err)
		}
	}
	result, err := mgr.Await(ctx, "mem", 5*time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if result.Status != string(store.StatusCompleted) || result.TotalBytes != 20 {
		t.Fatalf("unexpected result %+v", result)
	}
	select {
	case <-dispatcher.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a dispatch from the memory-backed lane")
	}
}
