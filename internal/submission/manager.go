package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/growthkit-labs/growthkit-go/internal/correlate"
	"github.com/growthkit-labs/growthkit-go/internal/poll"
	"github.com/growthkit-labs/growthkit-go/internal/registry"
	"github.com/growthkit-labs/growthkit-go/internal/render"
	"github.com/growthkit-labs/growthkit-go/internal/resultstore"
	"github.com/growthkit-labs/growthkit-go/internal/videotasks"
	"github.com/growthkit-labs/growthkit-go/internal/workflow"
)

// ErrNoIdentity rejects submissions whose results could never be read back:
// without an owner key the result store is off limits.
var ErrNoIdentity = errors.New("submission: no session identity")

// Result is the resolved outcome of a submission.
type Result struct {
	RecordID  string        `json:"record_id,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitzero"`
	Items     []render.Item `json:"items,omitempty"`
	ShortLink string        `json:"short_link,omitempty"`
}

// Snapshot is the owner-visible state of a submission at one instant.
type Snapshot struct {
	ID           string     `json:"submission_id"`
	Tool         string     `json:"tool"`
	State        poll.State `json:"state"`
	DispatchedAt time.Time  `json:"dispatched_at"`
	// CountdownSeconds is the remaining pre-delay while waiting, zero
	// otherwise.
	CountdownSeconds int     `json:"countdown_seconds,omitempty"`
	Result           *Result `json:"result,omitempty"`
	Failure          string  `json:"failure,omitempty"`
}

type submission struct {
	mu sync.Mutex

	id           string
	tool         registry.Tool
	owner        resultstore.Owner
	dispatchedAt time.Time
	taskID       string

	state   poll.State
	result  *Result
	failure string
	doneAt  time.Time

	cancel context.CancelFunc
}

func (s *submission) setState(state poll.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if state.Terminal() && s.doneAt.IsZero() {
		s.doneAt = time.Now().UTC()
	}
}

func (s *submission) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:           s.id,
		Tool:         s.tool.Name,
		State:        s.state,
		DispatchedAt: s.dispatchedAt,
		Result:       s.result,
		Failure:      s.failure,
	}
	if s.state == poll.StateWaiting {
		remaining := time.Until(s.dispatchedAt.Add(s.tool.PreDelay))
		if remaining > 0 {
			snap.CountdownSeconds = int(remaining.Round(time.Second) / time.Second)
		}
	}
	return snap
}

// Config tunes the manager.
type Config struct {
	// TTL keeps terminal submissions queryable before the sweeper drops
	// them.
	TTL time.Duration
	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration
}

const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Manager owns the in-memory submission set: it dispatches work, runs one
// poll scheduler goroutine per pending submission, and serves owner-scoped
// snapshots. Submissions are never persisted.
type Manager struct {
	logger     *slog.Logger
	dispatcher *workflow.Dispatcher
	store      *resultstore.Store
	video      *videotasks.Client
	cfg        Config

	mu   sync.Mutex
	subs map[string]*submission

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(logger *slog.Logger, dispatcher *workflow.Dispatcher, store *resultstore.Store, video *videotasks.Client, cfg Config) *Manager {
	baseCtx, stop := context.WithCancel(context.Background())
	return &Manager{
		logger:     logger,
		dispatcher: dispatcher,
		store:      store,
		video:      video,
		cfg:        cfg.withDefaults(),
		subs:       make(map[string]*submission),
		baseCtx:    baseCtx,
		stop:       stop,
	}
}

// Start runs the TTL sweeper until Shutdown.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.baseCtx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Shutdown cancels every scheduler and waits for them to stop.
func (m *Manager) Shutdown() {
	m.stop()
	m.wg.Wait()
}

// Submit validates, dispatches, and registers a submission. Tools that
// correlate by engine task id dispatch through the video task API when it is
// configured; everything else goes through the workflow webhook. For tools
// that resolve from the acknowledgment the returned snapshot is already
// terminal; for everything else a scheduler goroutine takes over.
func (m *Manager) Submit(ctx context.Context, tool registry.Tool, owner resultstore.Owner, fields map[string]string, file *workflow.FileField) (Snapshot, error) {
	if err := tool.ValidateInput(fields, file); err != nil {
		return Snapshot{}, err
	}
	if owner.Empty() && tool.Correlation.Polls() {
		return Snapshot{}, ErrNoIdentity
	}

	sub := &submission{
		id:    uuid.NewString(),
		tool:  tool,
		owner: owner,
		state: poll.StateDispatched,
	}

	if tool.Correlation == registry.CorrelateTaskID && m.video.Enabled() {
		dispatchedAt := time.Now().UTC()
		taskID, err := m.video.CreateTask(ctx, videotasks.ModelTextToVideo, taskInput(tool, fields))
		if err != nil {
			return Snapshot{}, &workflow.DispatchError{
				Endpoint: m.video.BaseURL(),
				Reason:   "create video task",
				Err:      err,
			}
		}
		sub.dispatchedAt = dispatchedAt
		sub.taskID = taskID
	} else {
		receipt, err := m.dispatcher.Dispatch(ctx, tool.Endpoint, tool.Encoding, buildSubmission(tool, owner, fields, file))
		if err != nil {
			return Snapshot{}, err
		}
		sub.dispatchedAt = receipt.DispatchedAt
		sub.taskID = receipt.Ack.TaskID()

		switch tool.Correlation {
		case registry.CorrelateAck:
			m.resolveFromAck(sub, receipt.Ack)
			m.register(sub)
			return sub.snapshot(), nil
		case registry.CorrelateNone:
			sub.setState(poll.StateResolved)
			m.register(sub)
			return sub.snapshot(), nil
		}
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	sub.cancel = cancel
	m.register(sub)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(runCtx, sub)
	}()

	return sub.snapshot(), nil
}

// Get returns a submission snapshot, scoped to its owner.
func (m *Manager) Get(tool, id string, owner resultstore.Owner) (Snapshot, bool) {
	sub := m.lookup(tool, id, owner)
	if sub == nil {
		return Snapshot{}, false
	}
	return sub.snapshot(), true
}

// Cancel stops a submission's scheduler. After it returns no further result
// store reads happen for this submission.
func (m *Manager) Cancel(tool, id string, owner resultstore.Owner) bool {
	sub := m.lookup(tool, id, owner)
	if sub == nil {
		return false
	}
	if sub.cancel != nil {
		sub.cancel()
	}
	return true
}

// Pending counts non-terminal submissions, for readiness reporting.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sub := range m.subs {
		sub.mu.Lock()
		if !sub.state.Terminal() {
			n++
		}
		sub.mu.Unlock()
	}
	return n
}

func (m *Manager) register(sub *submission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.id] = sub
}

func (m *Manager) lookup(tool, id string, owner resultstore.Owner) *submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || sub.tool.Name != tool {
		return nil
	}
	if sub.owner != owner {
		return nil
	}
	return sub
}

func (m *Manager) sweep() {
	cutoff := time.Now().UTC().Add(-m.cfg.TTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		sub.mu.Lock()
		expired := sub.state.Terminal() && !sub.doneAt.IsZero() && sub.doneAt.Before(cutoff)
		sub.mu.Unlock()
		if expired {
			delete(m.subs, id)
		}
	}
}

func (m *Manager) resolveFromAck(sub *submission, ack workflow.Ack) {
	link := ack.ShortLink()
	if link == "" {
		sub.failure = "acknowledgment carried no link"
		sub.setState(poll.StateFailed)
		return
	}
	sub.result = &Result{ShortLink: link}
	sub.setState(poll.StateResolved)
}

func (m *Manager) run(ctx context.Context, sub *submission) {
	logger := m.logger.With("tool", sub.tool.Name, "submission_id", sub.id)

	scheduler := &poll.Scheduler{
		Logger: logger,
		Config: poll.Config{
			PreDelay: sub.tool.PreDelay,
			Interval: sub.tool.PollInterval,
			MaxWait:  sub.tool.MaxWait,
		},
		OnTransition: sub.setState,
	}

	rule := m.correlationRule(sub)
	corrSub := correlate.Submission{
		Owner:        sub.owner,
		DispatchedAt: sub.dispatchedAt,
		TaskID:       sub.taskID,
	}
	read := m.readFunc(sub, rule, corrSub)
	accept := func(record resultstore.Record) bool {
		return rule.Accept(record, corrSub)
	}

	outcome := scheduler.Run(ctx, read, accept)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	switch outcome.State {
	case poll.StateResolved:
		sub.result = &Result{
			RecordID:  outcome.Record.ID,
			CreatedAt: outcome.Record.CreatedAt,
			Items: render.Record(outcome.Record, render.Options{
				Exclude:        sub.tool.DisplayExclude,
				UsernameFields: sub.tool.UsernameFields,
			}),
		}
		logger.Info("submission resolved", "record_id", outcome.Record.ID)
	case poll.StateFailed:
		sub.failure = outcome.Err.Error()
		logger.Warn("submission failed", "error", outcome.Err)
	case poll.StateTimedOut:
		sub.failure = "still processing, check history later"
		logger.Info("submission timed out waiting for a result")
	case poll.StateCancelled:
		logger.Info("submission cancelled")
	}
}

func (m *Manager) correlationRule(sub *submission) correlate.Rule {
	if sub.tool.Correlation == registry.CorrelateTaskID && sub.taskID != "" {
		return correlate.TaskIDRule{}
	}
	return correlate.TimestampRule{Tolerance: toleranceFor(sub.tool)}
}

func toleranceFor(tool registry.Tool) time.Duration {
	if tool.Tolerance > 0 {
		return tool.Tolerance
	}
	return correlate.DefaultTolerance
}

// readFunc builds the single serialized read the scheduler drives. Store
// absence maps to resultstore.ErrNotFound; an engine failure marker on a
// correlated record becomes a poll.EngineFailure.
func (m *Manager) readFunc(sub *submission, rule correlate.Rule, corrSub correlate.Submission) poll.ReadFunc {
	if sub.tool.Correlation == registry.CorrelateTaskID && sub.taskID != "" && m.video.Enabled() {
		return m.taskReadFunc(sub)
	}

	since := sub.dispatchedAt.Add(-toleranceFor(sub.tool))
	return func(ctx context.Context) (resultstore.Record, error) {
		record, err := m.store.Latest(ctx, sub.tool.Table, sub.owner, since)
		if err != nil {
			return resultstore.Record{}, err
		}
		if rule.Accept(record, corrSub) {
			if msg := record.StringField("fail_msg"); msg != "" {
				return resultstore.Record{}, &poll.EngineFailure{
					Code:    record.StringField("fail_code"),
					Message: msg,
				}
			}
		}
		return record, nil
	}
}

// taskReadFunc polls the video task API by task id. A finished task prefers
// the store record written by the engine; when that row has not landed yet a
// record is synthesized from the task result so the caller still resolves.
func (m *Manager) taskReadFunc(sub *submission) poll.ReadFunc {
	return func(ctx context.Context) (resultstore.Record, error) {
		task, err := m.video.TaskInfo(ctx, sub.taskID)
		if err != nil {
			return resultstore.Record{}, err
		}
		if task.Failed() {
			return resultstore.Record{}, &poll.EngineFailure{Code: task.FailCode, Message: task.FailMsg}
		}
		if !task.Succeeded() {
			return resultstore.Record{}, resultstore.ErrNotFound
		}

		if m.store != nil {
			record, err := m.store.Latest(ctx, sub.tool.Table, sub.owner, sub.dispatchedAt)
			if err == nil && record.StringField("task_id") == sub.taskID {
				return record, nil
			}
			if err != nil && !errors.Is(err, resultstore.ErrNotFound) {
				m.logger.Warn("store read after task success failed, synthesizing record",
					"tool", sub.tool.Name, "task_id", sub.taskID, "error", err)
			}
		}

		synth := resultstore.Record{
			CreatedAt:  time.Now().UTC(),
			OwnerID:    sub.owner.ID,
			OwnerEmail: sub.owner.Email,
			Fields: []resultstore.FieldValue{
				{Name: "task_id", Value: sub.taskID},
			},
		}
		for i, url := range task.ResultURLs {
			name := "video_url"
			if i > 0 {
				name = fmt.Sprintf("video_url_%d", i+1)
			}
			synth.Fields = append(synth.Fields, resultstore.FieldValue{Name: name, Value: url})
		}
		return synth, nil
	}
}

// taskInput builds the generation request input from the tool's declared
// fields plus the engine tuning parameters the workflow always sends. The
// frame count is a string on the wire.
func taskInput(tool registry.Tool, fields map[string]string) map[string]any {
	input := map[string]any{
		"aspect_ratio":     "portrait",
		"n_frames":         "10",
		"remove_watermark": true,
	}
	for _, spec := range tool.Fields {
		if value := fields[spec.Name]; value != "" {
			input[spec.Name] = value
		}
	}
	return input
}

// buildSubmission lays out the outbound payload in the tool's declared field
// order.
func buildSubmission(tool registry.Tool, owner resultstore.Owner, fields map[string]string, file *workflow.FileField) workflow.Submission {
	out := workflow.Submission{File: file}
	for _, spec := range tool.Fields {
		value := fields[spec.Name]
		if value == "" && !spec.Required {
			continue
		}
		out.Fields = append(out.Fields, workflow.Field{Name: spec.Name, Value: value})
	}
	if owner.ID != "" {
		out.Fields = append(out.Fields, workflow.Field{Name: "user_id", Value: owner.ID})
	}
	if owner.Email != "" {
		out.Fields = append(out.Fields, workflow.Field{Name: "user_email", Value: owner.Email})
	}
	return out
}
