package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voicecmd/pkg/storage/mock"
	"github.com/MrWong99/voicecmd/pkg/types"
)

// ─── Test doubles ───

type fakeNetwork struct{ online atomic.Bool }

func newNetwork(online bool) *fakeNetwork {
	n := &fakeNetwork{}
	n.online.Store(online)
	return n
}

func (n *fakeNetwork) Online() bool { return n.online.Load() }

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	handler func(types.ExecutionRequest) (*types.ExecutionResult, error)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeExecutor) Execute(_ context.Context, req types.ExecutionRequest) (*types.ExecutionResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Command)
	h := f.handler
	f.mu.Unlock()

	if h == nil {
		return &types.ExecutionResult{Success: true, Message: "done"}, nil
	}
	return h(req)
}

func (f *fakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var errUnreachable = errors.New("unreachable")

func failing(types.ExecutionRequest) (*types.ExecutionResult, error) { return nil, errUnreachable }

func newQueue(t *testing.T, store *mock.Store, exec Executor, net Network, opts ...Option) *Queue {
	t.Helper()
	q, err := New(store, exec, net, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func persisted(t *testing.T, store *mock.Store) []Command {
	t.Helper()
	data, ok := store.Get(DefaultStorageKey)
	if !ok {
		t.Fatal("nothing persisted")
	}
	var cmds []Command
	if err := json.Unmarshal(data, &cmds); err != nil {
		t.Fatalf("persisted data is not valid JSON: %v", err)
	}
	return cmds
}

// ─── Construction and loading ───

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(nil, &fakeExecutor{}, newNetwork(true)); err == nil {
		t.Error("New with nil store succeeded")
	}
	if _, err := New(&mock.Store{}, nil, newNetwork(true)); err == nil {
		t.Error("New with nil executor succeeded")
	}
	if _, err := New(&mock.Store{}, &fakeExecutor{}, nil); err == nil {
		t.Error("New with nil network succeeded")
	}
}

func TestNew_LoadFallsBackToEmpty(t *testing.T) {
	tests := []struct {
		name  string
		store *mock.Store
	}{
		{name: "missing key", store: &mock.Store{}},
		{name: "corrupt json", store: &mock.Store{Data: map[string][]byte{DefaultStorageKey: []byte("{not json")}}},
		{name: "wrong shape", store: &mock.Store{Data: map[string][]byte{DefaultStorageKey: []byte(`{"id":"x"}`)}}},
		{name: "load error", store: &mock.Store{LoadErr: errors.New("disk gone")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQueue(t, tt.store, &fakeExecutor{}, newNetwork(false))
			if n := q.Len(); n != 0 {
				t.Errorf("Len = %d, want 0", n)
			}
		})
	}
}

func TestNew_RestoresPersistedQueue(t *testing.T) {
	store := &mock.Store{}
	net := newNetwork(false)
	q1 := newQueue(t, store, &fakeExecutor{}, net)
	q1.AddCommand(context.Background(), "assign to alice", types.CommandContext{IssueID: "ISSUE-1"}, true)
	q1.AddCommand(context.Background(), "close issue", types.CommandContext{}, false)
	before := q1.Queue()

	q2 := newQueue(t, store, &fakeExecutor{}, net)
	after := q2.Queue()
	if len(after) != len(before) {
		t.Fatalf("restored %d commands, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i].ID != before[i].ID || after[i].Command != before[i].Command ||
			after[i].Context != before[i].Context || !after[i].Timestamp.Equal(before[i].Timestamp) {
			t.Errorf("command[%d] = %+v, want %+v", i, after[i], before[i])
		}
	}
}

func TestNew_ResumesProcessingAsPendingAndDropsMalformed(t *testing.T) {
	raw := `[
		{"id":"a","command":"one","status":"processing","retryCount":1},
		{"id":"","command":"no id","status":"pending"},
		{"id":"b","command":"two","status":"bogus"},
		{"id":"c","command":"three","status":"failed","retryCount":3,"error":"boom"}
	]`
	store := &mock.Store{Data: map[string][]byte{DefaultStorageKey: []byte(raw)}}
	q := newQueue(t, store, &fakeExecutor{}, newNetwork(false))

	cmds := q.Queue()
	if len(cmds) != 2 {
		t.Fatalf("Len = %d, want 2: %+v", len(cmds), cmds)
	}
	if cmds[0].ID != "a" || cmds[0].Status != StatusPending || cmds[0].RetryCount != 1 {
		t.Errorf("cmds[0] = %+v, want pending a with retryCount 1", cmds[0])
	}
	if cmds[1].ID != "c" || cmds[1].Status != StatusFailed || cmds[1].Error != "boom" {
		t.Errorf("cmds[1] = %+v, want failed c", cmds[1])
	}
}

// ─── AddCommand ───

func TestAddCommand(t *testing.T) {
	tests := []struct {
		name       string
		online     bool
		immediate  bool
		handler    func(types.ExecutionRequest) (*types.ExecutionResult, error)
		wantQueued bool
		wantErr    bool
		wantCalls  int
		wantLen    int
		wantResult bool
	}{
		{name: "online inline success", online: true, immediate: true, wantCalls: 1, wantResult: true},
		{
			name: "online inline rejection is not queued", online: true, immediate: true,
			handler: func(types.ExecutionRequest) (*types.ExecutionResult, error) {
				return &types.ExecutionResult{Success: false, Message: "Issue not found"}, nil
			},
			wantCalls: 1, wantResult: true,
		},
		{name: "online inline failure queues", online: true, immediate: true, handler: failing, wantQueued: true, wantErr: true, wantCalls: 1, wantLen: 1},
		{name: "offline queues without executing", online: false, immediate: true, wantQueued: true, wantLen: 1},
		{name: "deferred queues without executing", online: true, immediate: false, wantQueued: true, wantLen: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{handler: tt.handler}
			q := newQueue(t, &mock.Store{}, exec, newNetwork(tt.online))

			res := q.AddCommand(context.Background(), "set priority to high", types.CommandContext{IssueID: "ISSUE-12"}, tt.immediate)
			if res.Queued != tt.wantQueued {
				t.Errorf("Queued = %v, want %v", res.Queued, tt.wantQueued)
			}
			if (res.Err != nil) != tt.wantErr {
				t.Errorf("Err = %v, wantErr %v", res.Err, tt.wantErr)
			}
			if (res.Result != nil) != tt.wantResult {
				t.Errorf("Result = %+v, want present=%v", res.Result, tt.wantResult)
			}
			if got := len(exec.Calls()); got != tt.wantCalls {
				t.Errorf("executor calls = %d, want %d", got, tt.wantCalls)
			}
			if got := q.Len(); got != tt.wantLen {
				t.Errorf("Len = %d, want %d", got, tt.wantLen)
			}
			for _, c := range q.Queue() {
				if c.Status != StatusPending || c.RetryCount != 0 {
					t.Errorf("queued command = %+v, want pending with retryCount 0", c)
				}
				if c.Context.IssueID != "ISSUE-12" {
					t.Errorf("context not carried: %+v", c.Context)
				}
			}
		})
	}
}

func TestAddCommand_Empty(t *testing.T) {
	exec := &fakeExecutor{}
	q := newQueue(t, &mock.Store{}, exec, newNetwork(true))
	res := q.AddCommand(context.Background(), "   ", types.CommandContext{}, true)
	if !errors.Is(res.Err, ErrEmptyCommand) || res.Queued {
		t.Errorf("AddCommand(blank) = %+v, want ErrEmptyCommand and not queued", res)
	}
	if len(exec.Calls()) != 0 || q.Len() != 0 {
		t.Error("blank command reached executor or queue")
	}
}

func TestAddCommand_UniqueIDs(t *testing.T) {
	q := newQueue(t, &mock.Store{}, &fakeExecutor{}, newNetwork(false))
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.AddCommand(context.Background(), "cmd", types.CommandContext{}, false)
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, c := range q.Queue() {
		if seen[c.ID] {
			t.Fatalf("duplicate id %s", c.ID)
		}
		seen[c.ID] = true
	}
	if len(seen) != 50 {
		t.Errorf("Len = %d, want 50", len(seen))
	}
}

// ─── Persistence ───

func TestPersistBeforeNotify(t *testing.T) {
	store := &mock.Store{}
	q := newQueue(t, store, &fakeExecutor{}, newNetwork(false))

	var notified int
	q.Subscribe(func(snap []Command) {
		notified++
		got := persisted(t, store)
		if len(got) != len(snap) {
			t.Errorf("notification %d: persisted %d commands, snapshot has %d", notified, len(got), len(snap))
		}
	})

	q.AddCommand(context.Background(), "one", types.CommandContext{}, false)
	q.AddCommand(context.Background(), "two", types.CommandContext{}, false)
	id := q.Queue()[0].ID
	q.RemoveFromQueue(id)
	q.ClearAll()

	if notified != 4 {
		t.Errorf("notifications = %d, want 4", notified)
	}
	if store.SaveCount() != 4 {
		t.Errorf("saves = %d, want 4", store.SaveCount())
	}
}

func TestPersistFailureDoesNotFailOperation(t *testing.T) {
	store := &mock.Store{SaveErr: errors.New("read-only filesystem")}
	q := newQueue(t, store, &fakeExecutor{}, newNetwork(false))

	res := q.AddCommand(context.Background(), "close issue", types.CommandContext{}, true)
	if !res.Queued || res.Err != nil {
		t.Fatalf("AddCommand = %+v, want queued without error", res)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
	if store.SaveCount() != 1 {
		t.Errorf("save attempts = %d, want 1", store.SaveCount())
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	q := newQueue(t, &mock.Store{}, &fakeExecutor{}, newNetwork(false))
	var calls int
	unsub := q.Subscribe(func([]Command) { calls++ })
	q.AddCommand(context.Background(), "a", types.CommandContext{}, false)
	unsub()
	unsub()
	q.AddCommand(context.Background(), "b", types.CommandContext{}, false)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSubscribe_SnapshotIsolated(t *testing.T) {
	q := newQueue(t, &mock.Store{}, &fakeExecutor{}, newNetwork(false))
	q.Subscribe(func(snap []Command) {
		for i := range snap {
			snap[i].Command = "tampered"
		}
	})
	q.AddCommand(context.Background(), "original", types.CommandContext{}, false)
	if got := q.Queue()[0].Command; got != "original" {
		t.Errorf("Command = %q, subscriber mutated queue state", got)
	}
}

// ─── SyncQueue ───

func TestSyncQueue_FIFOWithDifferentLatencies(t *testing.T) {
	latency := map[string]time.Duration{
		"first":  30 * time.Millisecond,
		"second": time.Millisecond,
		"third":  15 * time.Millisecond,
	}
	exec := &fakeExecutor{handler: func(req types.ExecutionRequest) (*types.ExecutionResult, error) {
		time.Sleep(latency[req.Command])
		return &types.ExecutionResult{Success: true}, nil
	}}
	net := newNetwork(false)
	q := newQueue(t, &mock.Store{}, exec, net)

	for _, c := range []string{"first", "second", "third"} {
		q.AddCommand(context.Background(), c, types.CommandContext{}, true)
	}
	net.online.Store(true)

	res, err := q.SyncQueue(context.Background())
	if err != nil {
		t.Fatalf("SyncQueue: %v", err)
	}
	if res != (SyncResult{Successful: 3}) {
		t.Errorf("result = %+v, want 3 successful", res)
	}
	calls := exec.Calls()
	want := []string{"first", "second", "third"}
	for i := range want {
		if i >= len(calls) || calls[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", calls, want)
		}
	}
	if m := exec.maxInFlight.Load(); m != 1 {
		t.Errorf("max concurrent executions = %d, want 1", m)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, completed commands should be removed", q.Len())
	}
}

func TestSyncQueue_Offline(t *testing.T) {
	exec := &fakeExecutor{}
	q := newQueue(t, &mock.Store{}, exec, newNetwork(false))
	q.AddCommand(context.Background(), "a", types.CommandContext{}, false)
	q.AddCommand(context.Background(), "b", types.CommandContext{}, false)

	res, err := q.SyncQueue(context.Background())
	if err != nil {
		t.Fatalf("SyncQueue: %v", err)
	}
	if res != (SyncResult{Pending: 2}) {
		t.Errorf("result = %+v, want {Pending:2}", res)
	}
	if len(exec.Calls()) != 0 {
		t.Error("executor called while offline")
	}
}

func TestSyncQueue_RetryBound(t *testing.T) {
	exec := &fakeExecutor{handler: failing}
	net := newNetwork(false)
	store := &mock.Store{}
	q := newQueue(t, store, exec, net, WithMaxRetries(3))
	q.AddCommand(context.Background(), "flaky", types.CommandContext{}, false)
	net.online.Store(true)

	wantPending := []int{1, 1, 0}
	for i, wp := range wantPending {
		res, err := q.SyncQueue(context.Background())
		if err != nil {
			t.Fatalf("pass %d: %v", i+1, err)
		}
		if res.Failed != 1 || res.Pending != wp {
			t.Errorf("pass %d = %+v, want Failed=1 Pending=%d", i+1, res, wp)
		}
	}

	cmd := q.Queue()[0]
	if cmd.Status != StatusFailed || cmd.RetryCount != 3 {
		t.Fatalf("command = %+v, want failed after 3 attempts", cmd)
	}
	if cmd.Error != errUnreachable.Error() {
		t.Errorf("Error = %q, want %q", cmd.Error, errUnreachable.Error())
	}

	// A failed command is never picked up again.
	res, _ := q.SyncQueue(context.Background())
	if res != (SyncResult{}) {
		t.Errorf("pass after failure = %+v, want zero", res)
	}
	if got := len(exec.Calls()); got != 3 {
		t.Errorf("executor calls = %d, want 3", got)
	}
	if p := persisted(t, store); p[0].Status != StatusFailed {
		t.Errorf("persisted status = %q, want failed", p[0].Status)
	}
}

func TestSetMaxRetries(t *testing.T) {
	exec := &fakeExecutor{handler: failing}
	net := newNetwork(false)
	q := newQueue(t, &mock.Store{}, exec, net, WithMaxRetries(5))
	q.AddCommand(context.Background(), "flaky", types.CommandContext{}, false)
	net.online.Store(true)

	q.SetMaxRetries(0)
	q.SetMaxRetries(-3)
	if _, err := q.SyncQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cmd := q.Queue()[0]; cmd.Status != StatusPending {
		t.Fatalf("after one attempt with budget 5: %+v", cmd)
	}

	q.SetMaxRetries(2)
	if _, err := q.SyncQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cmd := q.Queue()[0]; cmd.Status != StatusFailed || cmd.RetryCount != 2 {
		t.Errorf("after lowering budget to 2: %+v, want failed", cmd)
	}
}

func TestSyncQueue_CountsRejections(t *testing.T) {
	exec := &fakeExecutor{handler: func(req types.ExecutionRequest) (*types.ExecutionResult, error) {
		switch req.Command {
		case "good":
			return &types.ExecutionResult{Success: true}, nil
		case "bad":
			return &types.ExecutionResult{Success: false, Message: "Command not understood"}, nil
		}
		return nil, errUnreachable
	}}
	net := newNetwork(false)
	q := newQueue(t, &mock.Store{}, exec, net)
	for _, c := range []string{"good", "bad", "down"} {
		q.AddCommand(context.Background(), c, types.CommandContext{}, false)
	}
	net.online.Store(true)

	res, err := q.SyncQueue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := SyncResult{Successful: 1, Rejected: 1, Failed: 1, Pending: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
	if q.Len() != 1 || q.Queue()[0].Command != "down" {
		t.Errorf("queue = %+v, want only the unreachable command", q.Queue())
	}
}

func TestSyncQueue_StopsWhenNetworkDrops(t *testing.T) {
	net := newNetwork(false)
	exec := &fakeExecutor{}
	exec.handler = func(types.ExecutionRequest) (*types.ExecutionResult, error) {
		net.online.Store(false)
		return nil, errUnreachable
	}
	q := newQueue(t, &mock.Store{}, exec, net)
	for _, c := range []string{"a", "b", "c"} {
		q.AddCommand(context.Background(), c, types.CommandContext{}, false)
	}
	net.online.Store(true)

	res, _ := q.SyncQueue(context.Background())
	if res.Failed != 1 || res.Pending != 3 {
		t.Errorf("result = %+v, want Failed=1 Pending=3", res)
	}
	if got := len(exec.Calls()); got != 1 {
		t.Errorf("executor calls = %d, want 1", got)
	}
}

func TestSyncQueue_RejectsConcurrentPass(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	exec := &fakeExecutor{handler: func(types.ExecutionRequest) (*types.ExecutionResult, error) {
		close(started)
		<-release
		return &types.ExecutionResult{Success: true}, nil
	}}
	net := newNetwork(false)
	q := newQueue(t, &mock.Store{}, exec, net)
	q.AddCommand(context.Background(), "slow", types.CommandContext{}, false)
	net.online.Store(true)

	done := make(chan SyncResult)
	go func() {
		res, _ := q.SyncQueue(context.Background())
		done <- res
	}()
	<-started

	if _, err := q.SyncQueue(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("concurrent SyncQueue err = %v, want ErrSyncInProgress", err)
	}
	close(release)
	if res := <-done; res.Successful != 1 {
		t.Errorf("first pass = %+v, want 1 successful", res)
	}

	// The guard is released afterwards.
	if _, err := q.SyncQueue(context.Background()); err != nil {
		t.Errorf("SyncQueue after pass: %v", err)
	}
}

func TestSyncQueue_RemovedDuringExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	exec := &fakeExecutor{handler: func(types.ExecutionRequest) (*types.ExecutionResult, error) {
		close(started)
		<-release
		return nil, errUnreachable
	}}
	net := newNetwork(false)
	q := newQueue(t, &mock.Store{}, exec, net)
	q.AddCommand(context.Background(), "doomed", types.CommandContext{}, false)
	id := q.Queue()[0].ID
	net.online.Store(true)

	done := make(chan struct{})
	go func() {
		_, _ = q.SyncQueue(context.Background())
		close(done)
	}()
	<-started

	if got, _ := q.Get(id); got.Status != StatusProcessing {
		t.Errorf("status during execution = %q, want processing", got.Status)
	}
	if !q.RemoveFromQueue(id) {
		t.Fatal("RemoveFromQueue returned false")
	}
	close(release)
	<-done

	if q.Len() != 0 {
		t.Errorf("removed command reappeared: %+v", q.Queue())
	}
}

// ─── Retry and housekeeping ───

func TestRetryCommand(t *testing.T) {
	fail := atomic.Bool{}
	fail.Store(true)
	exec := &fakeExecutor{handler: func(types.ExecutionRequest) (*types.ExecutionResult, error) {
		if fail.Load() {
			return nil, errUnreachable
		}
		return &types.ExecutionResult{Success: true, Message: "Assigned"}, nil
	}}
	q := newQueue(t, &mock.Store{}, exec, newNetwork(true), WithMaxRetries(1))

	q.AddCommand(context.Background(), "assign", types.CommandContext{}, false)
	id := q.Queue()[0].ID
	if _, err := q.SyncQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got, _ := q.Get(id); got.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}

	fail.Store(false)
	res, err := q.RetryCommand(context.Background(), id)
	if err != nil {
		t.Fatalf("RetryCommand: %v", err)
	}
	if !res.Success || res.Message != "Assigned" {
		t.Errorf("result = %+v", res)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0 after successful retry", q.Len())
	}

	if _, err := q.RetryCommand(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RetryCommand(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestRetryCommand_FailureResetsBudget(t *testing.T) {
	exec := &fakeExecutor{handler: failing}
	q := newQueue(t, &mock.Store{}, exec, newNetwork(true), WithMaxRetries(2))
	q.AddCommand(context.Background(), "x", types.CommandContext{}, false)
	id := q.Queue()[0].ID
	for range 2 {
		_, _ = q.SyncQueue(context.Background())
	}

	if _, err := q.RetryCommand(context.Background(), id); !errors.Is(err, errUnreachable) {
		t.Fatalf("RetryCommand err = %v, want executor error", err)
	}
	got, _ := q.Get(id)
	if got.Status != StatusPending || got.RetryCount != 1 || got.Error != "" {
		t.Errorf("command = %+v, want pending with retryCount 1 and no error", got)
	}
}

func TestRemoveAndClear(t *testing.T) {
	raw := `[
		{"id":"a","command":"one","status":"pending"},
		{"id":"b","command":"two","status":"completed"},
		{"id":"c","command":"three","status":"failed","retryCount":3},
		{"id":"d","command":"four","status":"completed"}
	]`
	store := &mock.Store{Data: map[string][]byte{DefaultStorageKey: []byte(raw)}}
	q := newQueue(t, store, &fakeExecutor{}, newNetwork(false))

	want := Stats{Total: 4, Pending: 1, Completed: 2, Failed: 1}
	if got := q.Stats(); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}

	if q.RemoveFromQueue("missing") {
		t.Error("RemoveFromQueue(missing) = true")
	}
	if !q.RemoveFromQueue("c") {
		t.Error("RemoveFromQueue(c) = false")
	}

	q.ClearCompleted()
	cmds := q.Queue()
	if len(cmds) != 1 || cmds[0].ID != "a" {
		t.Errorf("after ClearCompleted = %+v, want only a", cmds)
	}

	q.ClearAll()
	if q.Len() != 0 {
		t.Errorf("Len after ClearAll = %d", q.Len())
	}
	if p := persisted(t, store); len(p) != 0 {
		t.Errorf("persisted after ClearAll = %+v, want empty", p)
	}
}

// ─── Run ───

func TestRun_SyncsOnReconnect(t *testing.T) {
	exec := &fakeExecutor{}
	net := newNetwork(false)
	q := newQueue(t, &mock.Store{}, exec, net, WithSyncInterval(time.Hour))
	q.AddCommand(context.Background(), "queued while offline", types.CommandContext{}, true)

	online := make(chan bool)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx, online)
		close(done)
	}()

	net.online.Store(true)
	online <- true

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	if q.Len() != 0 {
		t.Fatalf("queue not drained after reconnect: %+v", q.Queue())
	}
	if calls := exec.Calls(); len(calls) != 1 || calls[0] != "queued while offline" {
		t.Errorf("calls = %v", calls)
	}
}

func TestRun_PeriodicSync(t *testing.T) {
	exec := &fakeExecutor{}
	net := newNetwork(false)
	q := newQueue(t, &mock.Store{}, exec, net, WithSyncInterval(5*time.Millisecond))
	q.AddCommand(context.Background(), "later", types.CommandContext{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, nil)

	time.Sleep(20 * time.Millisecond)
	if len(exec.Calls()) != 0 {
		t.Fatal("periodic sync executed while offline")
	}

	net.online.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if q.Len() != 0 {
		t.Error("periodic sync did not drain the queue")
	}
}
