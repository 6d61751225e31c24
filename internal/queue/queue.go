// Package queue implements the offline-resilient command queue.
//
// Every command accepted by the orchestrator passes through [Queue.AddCommand].
// When the network is available the command is executed inline; otherwise, or
// when the remote call fails, it is stored and later replayed by
// [Queue.SyncQueue] strictly in enqueue order. The whole queue is written to a
// [storage.Store] on every mutation before subscribers are notified, so a
// subscriber never observes state that is not also durable.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicecmd/internal/observe"
	"github.com/MrWong99/voicecmd/pkg/storage"
	"github.com/MrWong99/voicecmd/pkg/types"
)

var (
	// ErrNotFound is returned for operations on an unknown command ID.
	ErrNotFound = errors.New("queue: command not found")

	// ErrSyncInProgress is returned by [Queue.SyncQueue] when another pass
	// is still running.
	ErrSyncInProgress = errors.New("queue: sync already in progress")

	// ErrBusy is returned when a command is already being executed.
	ErrBusy = errors.New("queue: command is being processed")

	// ErrEmptyCommand is reported for blank command text.
	ErrEmptyCommand = errors.New("queue: empty command")
)

// Defaults.
const (
	DefaultMaxRetries   = 3
	DefaultSyncInterval = 30 * time.Second
	DefaultStorageKey   = "voicecmd.queue"

	loadTimeout = 10 * time.Second
)

// Executor runs a command on the remote service. A nil error with
// Success=false is a business rejection; an error means the command did not
// reach the service and may be retried.
type Executor interface {
	Execute(ctx context.Context, req types.ExecutionRequest) (*types.ExecutionResult, error)
}

// Network reports current connectivity.
type Network interface {
	Online() bool
}

// Option is a functional option for configuring a [Queue].
type Option func(*Queue)

// WithMaxRetries sets the attempt budget after which a command is marked
// failed. Default: 3.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithSyncInterval sets the period of the background sync in [Queue.Run].
// Default: 30s.
func WithSyncInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.syncInterval = d
		}
	}
}

// WithStorageKey sets the key the snapshot is stored under.
func WithStorageKey(key string) Option {
	return func(q *Queue) {
		if key != "" {
			q.key = key
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is the durable command queue. Construct it once in the composition
// root and share the pointer. All methods are safe for concurrent use.
type Queue struct {
	store        storage.Store
	exec         Executor
	net          Network
	key          string
	maxRetries   int
	syncInterval time.Duration
	metrics      *observe.Metrics
	now          func() time.Time

	// writeMu serialises mutate-persist-notify cycles so subscribers see
	// snapshots in mutation order. mu guards commands and subs.
	writeMu   sync.Mutex
	mu        sync.Mutex
	commands  []Command
	subs      map[int]func([]Command)
	nextSubID int

	syncing atomic.Bool
}

// New creates a [Queue] and rehydrates it from store. Missing or corrupt
// data yields an empty queue and a warning; it is never an error.
func New(store storage.Store, exec Executor, net Network, opts ...Option) (*Queue, error) {
	if store == nil || exec == nil || net == nil {
		return nil, errors.New("queue: store, executor and network are required")
	}
	q := &Queue{
		store:        store,
		exec:         exec,
		net:          net,
		key:          DefaultStorageKey,
		maxRetries:   DefaultMaxRetries,
		syncInterval: DefaultSyncInterval,
		now:          time.Now,
		subs:         make(map[int]func([]Command)),
	}
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	q.commands = q.load(ctx)
	q.metrics.QueueDepth.Record(ctx, int64(len(q.commands)))
	return q, nil
}

// load reads the persisted snapshot. Commands persisted mid-execution are
// resumed as pending so the next sync retries them.
func (q *Queue) load(ctx context.Context) []Command {
	data, err := q.store.Load(ctx, q.key)
	if errors.Is(err, storage.ErrNotFound) {
		return []Command{}
	}
	if err != nil {
		slog.Warn("queue: load failed, starting empty", "key", q.key, "err", err)
		return []Command{}
	}

	var loaded []Command
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Warn("queue: persisted queue is corrupt, starting empty", "key", q.key, "err", err)
		return []Command{}
	}

	out := make([]Command, 0, len(loaded))
	for _, c := range loaded {
		if c.ID == "" || !c.Status.IsValid() {
			slog.Warn("queue: dropping malformed entry", "command_id", c.ID, "status", c.Status)
			continue
		}
		if c.Status == StatusProcessing {
			c.Status = StatusPending
		}
		out = append(out, c)
	}
	if len(out) > 0 {
		slog.Info("queue: restored commands", "count", len(out))
	}
	return out
}

// ─── Mutation plumbing ───

// mutate applies fn to the command list, persists, and notifies subscribers.
// fn reports whether it changed anything; unchanged lists are not persisted.
func (q *Queue) mutate(ctx context.Context, fn func(cmds []Command) ([]Command, bool)) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.Lock()
	next, changed := fn(q.commands)
	if !changed {
		q.mu.Unlock()
		return
	}
	q.commands = next
	snap := cloneCommands(next)
	subs := make([]func([]Command), 0, len(q.subs))
	for _, s := range q.subs {
		subs = append(subs, s)
	}
	q.mu.Unlock()

	q.persist(ctx, snap)
	q.metrics.QueueDepth.Record(ctx, int64(len(snap)))
	for _, s := range subs {
		s(cloneCommands(snap))
	}
}

func (q *Queue) persist(ctx context.Context, snap []Command) {
	data, err := json.Marshal(snap)
	if err == nil {
		// Persist even when the caller's context is already done: the
		// in-memory state has changed and must be mirrored.
		err = q.store.Save(context.WithoutCancel(ctx), q.key, data)
	}
	if err != nil {
		q.metrics.PersistErrors.Add(ctx, 1)
		slog.Error("queue: persist failed", "key", q.key, "err", err)
	}
}

func cloneCommands(cmds []Command) []Command {
	out := make([]Command, len(cmds))
	copy(out, cmds)
	return out
}

func indexOf(cmds []Command, id string) int {
	for i := range cmds {
		if cmds[i].ID == id {
			return i
		}
	}
	return -1
}

// ─── Public operations ───

// AddCommand accepts a command. With executeImmediately set and the network
// online it is executed inline: success or a business rejection is returned
// in Result and nothing is stored, while an execution error stores the
// command as pending with RetryCount 0 and returns Queued=true with Err set.
// Otherwise the command is stored without an execution attempt.
func (q *Queue) AddCommand(ctx context.Context, command string, cmdCtx types.CommandContext, executeImmediately bool) AddResult {
	command = strings.TrimSpace(command)
	if command == "" {
		return AddResult{Err: ErrEmptyCommand}
	}
	cmd := Command{
		ID:        uuid.NewString(),
		Command:   command,
		Context:   cmdCtx,
		Timestamp: q.now(),
		Status:    StatusPending,
	}

	if executeImmediately && q.net.Online() {
		res, err := q.call(ctx, &cmd)
		if err == nil {
			return AddResult{Result: res}
		}
		slog.Info("queue: inline execution failed, queuing", "command_id", cmd.ID, "err", err)
		q.append(ctx, cmd)
		return AddResult{Queued: true, Err: err}
	}

	q.append(ctx, cmd)
	slog.Info("queue: command queued", "command_id", cmd.ID, "online", q.net.Online())
	return AddResult{Queued: true}
}

func (q *Queue) append(ctx context.Context, cmd Command) {
	q.mutate(ctx, func(cmds []Command) ([]Command, bool) {
		return append(cmds, cmd), true
	})
}

// call invokes the executor and records the outcome metric.
func (q *Queue) call(ctx context.Context, cmd *Command) (*types.ExecutionResult, error) {
	res, err := q.exec.Execute(ctx, cmd.request())
	if err == nil && res == nil {
		err = errors.New("queue: executor returned no result")
	}
	switch {
	case err != nil:
		q.metrics.RecordExecution(ctx, "error")
	case res.Success:
		q.metrics.RecordExecution(ctx, "success")
	default:
		q.metrics.RecordExecution(ctx, "rejected")
	}
	return res, err
}

// execute runs one stored command: processing, then removed on completion or
// back to pending (or failed once the retry budget is spent) on error. The
// executor error is returned to the caller.
func (q *Queue) execute(ctx context.Context, id string) (*types.ExecutionResult, error) {
	var (
		cmd     Command
		lookErr error
	)
	q.mutate(ctx, func(cmds []Command) ([]Command, bool) {
		i := indexOf(cmds, id)
		switch {
		case i < 0:
			lookErr = ErrNotFound
			return cmds, false
		case cmds[i].Status == StatusProcessing:
			lookErr = ErrBusy
			return cmds, false
		}
		cmds[i].Status = StatusProcessing
		cmd = cmds[i]
		return cmds, true
	})
	if lookErr != nil {
		return nil, fmt.Errorf("queue: execute %s: %w", id, lookErr)
	}

	ctx, span := observe.StartSpan(ctx, "queue.execute", trace.WithAttributes(
		observe.AttrCommandID.String(id),
		attribute.Int("voicecmd.command.retry_count", cmd.RetryCount),
	))
	res, err := q.call(ctx, &cmd)
	observe.EndSpan(span, err)
	if err == nil {
		q.mutate(ctx, func(cmds []Command) ([]Command, bool) {
			i := indexOf(cmds, id)
			if i < 0 {
				return cmds, false
			}
			return append(cmds[:i:i], cmds[i+1:]...), true
		})
		slog.Debug("queue: command completed", "command_id", id, "success", res.Success)
		return res, nil
	}

	q.mutate(ctx, func(cmds []Command) ([]Command, bool) {
		i := indexOf(cmds, id)
		if i < 0 {
			return cmds, false
		}
		c := &cmds[i]
		c.RetryCount++
		if c.RetryCount >= q.maxRetries {
			c.Status = StatusFailed
			c.Error = err.Error()
			slog.Warn("queue: command failed permanently",
				"command_id", id, "attempts", c.RetryCount, "err", err)
		} else {
			c.Status = StatusPending
			slog.Info("queue: command will be retried",
				"command_id", id, "attempts", c.RetryCount, "err", err)
		}
		return cmds, true
	})
	return nil, err
}

// RetryCommand resets a command's retry budget and executes it immediately.
func (q *Queue) RetryCommand(ctx context.Context, id string) (*types.ExecutionResult, error) {
	var lookErr error
	q.mutate(ctx, func(cmds []Command) ([]Command, bool) {
		i := indexOf(cmds, id)
		switch {
		case i < 0:
			lookErr = ErrNotFound
			return cmds, false
		case cmds[i].Status == StatusProcessing:
			lookErr = ErrBusy
			return cmds, false
		}
		cmds[i].RetryCount = 0
		cmds[i].Status = StatusPending
		cmds[i].Error = ""
		return cmds, true
	})
	if lookErr != nil {
		return nil, fmt.Errorf("queue: retry %s: %w", id, lookErr)
	}
	return q.execute(ctx, id)
}

// RemoveFromQueue deletes a command. It reports whether the ID was present.
func (q *Queue) RemoveFromQueue(id string) bool {
	removed := false
	q.mutate(context.Background(), func(cmds []Command) ([]Command, bool) {
		i := indexOf(cmds, id)
		if i < 0 {
			return cmds, false
		}
		removed = true
		return append(cmds[:i:i], cmds[i+1:]...), true
	})
	return removed
}

// ClearCompleted drops any completed entries. Completion already removes
// commands, so this only compacts state written by older versions.
func (q *Queue) ClearCompleted() {
	q.mutate(context.Background(), func(cmds []Command) ([]Command, bool) {
		out := make([]Command, 0, len(cmds))
		for _, c := range cmds {
			if c.Status != StatusCompleted {
				out = append(out, c)
			}
		}
		return out, true
	})
}

// ClearAll empties the queue.
func (q *Queue) ClearAll() {
	q.mutate(context.Background(), func([]Command) ([]Command, bool) {
		return []Command{}, true
	})
}

// Subscribe registers fn to receive a snapshot after every mutation. fn runs
// synchronously after the snapshot is persisted and must not mutate the
// queue. The returned function removes the subscription.
func (q *Queue) Subscribe(fn func([]Command)) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextSubID
	q.nextSubID++
	q.subs[id] = fn
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.subs, id)
			q.mu.Unlock()
		})
	}
}

// SetMaxRetries changes the attempt budget for subsequent failures.
// Commands already marked failed stay failed.
func (q *Queue) SetMaxRetries(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxRetries = n
}

// Queue returns a snapshot of all commands in enqueue order.
func (q *Queue) Queue() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneCommands(q.commands)
}

// Len returns the number of stored commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Get returns a copy of the command with the given ID.
func (q *Queue) Get(id string) (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := indexOf(q.commands, id); i >= 0 {
		return q.commands[i], true
	}
	return Command{}, false
}

// Stats returns counts by status.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return statsOf(q.commands)
}

func statsOf(cmds []Command) Stats {
	s := Stats{Total: len(cmds)}
	for _, c := range cmds {
		switch c.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
