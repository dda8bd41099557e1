// SPDX-License-Identifier: Apache-2.0

// Package runtime ties the entitlement gate, step runs, preset auto-fill and
// usage counting together for request handlers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/promptflow/internal/domain"
	"github.com/adiadia/promptflow/internal/entitlement"
	"github.com/adiadia/promptflow/internal/metrics"
	"github.com/adiadia/promptflow/internal/prefill"
	"github.com/adiadia/promptflow/internal/usage"
	"github.com/adiadia/promptflow/internal/workflow"
	"github.com/google/uuid"
)

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrEntitlementBlocked = errors.New("run blocked by entitlement")
	ErrRunIncomplete      = errors.New("run has unfinished steps")
)

// Actor is the caller of a runtime operation: who they are and which
// browsing session the request belongs to.
type Actor struct {
	Identity  usage.Identity
	SessionID string
}

type Catalog interface {
	Get(slug string) (workflow.Workflow, bool)
}

type Gate interface {
	Check(ctx context.Context, id usage.Identity, session *entitlement.Session) entitlement.Result
}

type Counter interface {
	RecordRun(ctx context.Context, id usage.Identity, runID uuid.UUID) error
}

type Snapshot struct {
	ID         uuid.UUID         `json:"id"`
	Workflow   string            `json:"workflow"`
	StartedAt  time.Time         `json:"started_at"`
	State      workflow.RunState `json:"state"`
	Satisfied  bool              `json:"current_step_satisfied"`
	CanAdvance bool              `json:"can_advance"`
}

type PrefillResult struct {
	prefill.Result
	Applied []string `json:"applied"`
}

type activeRun struct {
	mu        sync.Mutex
	id        uuid.UUID
	sessionID string
	slug      string
	startedAt time.Time
	run       *workflow.Run

	// lastActive is guarded by Service.mu.
	lastActive time.Time
}

func (a *activeRun) snapshot() Snapshot {
	st := a.run.State()
	return Snapshot{
		ID:         a.id,
		Workflow:   a.slug,
		StartedAt:  a.startedAt,
		State:      st,
		Satisfied:  !st.Complete && a.run.Satisfied(st.CurrentStep),
		CanAdvance: a.run.CanAdvance(),
	}
}

type Service struct {
	catalog  Catalog
	gate     Gate
	counter  Counter
	presets  prefill.PresetStore
	aliases  prefill.Resolver
	sessions *entitlement.Sessions
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	runs map[uuid.UUID]*activeRun
}

type Config struct {
	Catalog  Catalog
	Gate     Gate
	Counter  Counter
	Presets  prefill.PresetStore
	Aliases  prefill.Resolver
	Sessions *entitlement.Sessions
	Logger   *slog.Logger
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = entitlement.NewSessions()
	}
	aliases := cfg.Aliases
	if aliases == nil {
		aliases = prefill.DefaultAliasTable()
	}
	return &Service{
		catalog:  cfg.Catalog,
		gate:     cfg.Gate,
		counter:  cfg.Counter,
		presets:  cfg.Presets,
		aliases:  aliases,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
		runs:     make(map[uuid.UUID]*activeRun),
	}
}

// Entitlement evaluates the gate for actor without starting anything.
func (s *Service) Entitlement(ctx context.Context, actor Actor) entitlement.Result {
	return s.gate.Check(ctx, actor.Identity, s.sessions.Get(actor.SessionID))
}

// ContinueAnyway records the session override and re-evaluates the gate.
func (s *Service) ContinueAnyway(ctx context.Context, actor Actor) entitlement.Result {
	s.sessions.Get(actor.SessionID).ContinueAnyway()
	return s.Entitlement(ctx, actor)
}

// Start gates the attempt and opens a run on step 1. A hard block returns
// ErrEntitlementBlocked together with the gate result for the UI.
func (s *Service) Start(ctx context.Context, actor Actor, slug string) (Snapshot, entitlement.Result, error) {
	wf, ok := s.catalog.Get(slug)
	if !ok {
		return Snapshot{}, entitlement.Result{}, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, slug)
	}

	res := s.Entitlement(ctx, actor)
	if res.Blocked() {
		return Snapshot{}, res, ErrEntitlementBlocked
	}

	run, err := workflow.NewRun(wf.Steps)
	if err != nil {
		return Snapshot{}, res, err
	}

	active := &activeRun{
		id:        uuid.New(),
		sessionID: actor.SessionID,
		slug:      wf.Slug,
		startedAt: s.now().UTC(),
		run:       run,
	}

	s.mu.Lock()
	active.lastActive = s.now()
	s.runs[active.id] = active
	s.mu.Unlock()

	s.logger.Info("workflow run started",
		"run_id", active.id,
		"workflow", wf.Slug,
		"identity", actor.Identity.Kind(),
		"decision", res.Decision,
	)

	return active.snapshot(), res, nil
}

func (s *Service) lookup(actor Actor, runID uuid.UUID) (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, ok := s.runs[runID]
	if !ok || active.sessionID != actor.SessionID {
		return nil, ErrRunNotFound
	}
	active.lastActive = s.now()
	return active, nil
}

// withRun runs fn with exclusive access to the run and returns the
// resulting snapshot.
func (s *Service) withRun(actor Actor, runID uuid.UUID, fn func(*activeRun) error) (Snapshot, error) {
	active, err := s.lookup(actor, runID)
	if err != nil {
		return Snapshot{}, err
	}

	active.mu.Lock()
	defer active.mu.Unlock()

	if err := fn(active); err != nil {
		return Snapshot{}, err
	}
	return active.snapshot(), nil
}

func (s *Service) Snapshot(actor Actor, runID uuid.UUID) (Snapshot, error) {
	return s.withRun(actor, runID, func(*activeRun) error { return nil })
}

func (s *Service) SetFields(actor Actor, runID uuid.UUID, step int, values map[string]string) (Snapshot, error) {
	return s.withRun(actor, runID, func(a *activeRun) error {
		return a.run.SetFields(step, values)
	})
}

func (s *Service) SetInput(actor Actor, runID uuid.UUID, step int, text string) (Snapshot, error) {
	return s.withRun(actor, runID, func(a *activeRun) error {
		return a.run.SetInput(step, text)
	})
}

func (s *Service) Acknowledge(actor Actor, runID uuid.UUID, step int) (Snapshot, error) {
	return s.withRun(actor, runID, func(a *activeRun) error {
		return a.run.Acknowledge(step)
	})
}

func (s *Service) ToggleItem(actor Actor, runID uuid.UUID, step, item int, checked bool) (Snapshot, error) {
	return s.withRun(actor, runID, func(a *activeRun) error {
		return a.run.SetItemChecked(step, item, checked)
	})
}

func (s *Service) Advance(actor Actor, runID uuid.UUID) (Snapshot, error) {
	return s.withRun(actor, runID, func(a *activeRun) error {
		from := a.run.Current()
		if err := a.run.Advance(); err != nil {
			return err
		}
		s.recordTransition(a.run, from, "forward")
		return nil
	})
}

func (s *Service) Back(actor Actor, runID uuid.UUID) (Snapshot, error) {
	return s.withRun(actor, runID, func(a *activeRun) error {
		wasComplete := a.run.IsComplete()
		if err := a.run.Back(); err != nil {
			return err
		}
		if !wasComplete {
			s.recordTransition(a.run, a.run.Current(), "back")
		}
		return nil
	})
}

func (s *Service) recordTransition(run *workflow.Run, step int, direction string) {
	st, err := run.Step(step)
	if err != nil {
		return
	}
	metrics.IncStepTransition(string(st.Type()), direction)
}

func (s *Service) Render(actor Actor, runID uuid.UUID, step int) (string, error) {
	var out string
	_, err := s.withRun(actor, runID, func(a *activeRun) error {
		var err error
		out, err = a.run.Render(step)
		return err
	})
	return out, err
}

// Prefill computes auto-fill values for one step from the selected preset
// and applies them to answers the user has not given yet. Anonymous actors
// have no presets and always get an empty result.
func (s *Service) Prefill(ctx context.Context, actor Actor, runID uuid.UUID, step int, sel prefill.Selection) (PrefillResult, error) {
	active, err := s.lookup(actor, runID)
	if err != nil {
		return PrefillResult{}, err
	}
	if err := sel.Validate(); err != nil {
		return PrefillResult{}, err
	}

	active.mu.Lock()
	st, err := active.run.Step(step)
	active.mu.Unlock()
	if err != nil {
		return PrefillResult{}, err
	}

	fields := prefillFields(st)
	empty := PrefillResult{Result: prefill.ComputePrefill(s.aliases, nil, nil, sel.Scope)}
	if len(fields) == 0 || !actor.Identity.Authenticated() || s.presets == nil {
		return empty, nil
	}

	source, err := prefill.LoadSource(ctx, s.presets, actor.Identity.UserID, sel)
	if err != nil {
		return PrefillResult{}, err
	}
	if source == nil {
		return empty, nil
	}

	result := PrefillResult{Result: prefill.ComputePrefill(s.aliases, fields, source, sel.Scope)}

	active.mu.Lock()
	result.Applied, err = active.run.ApplyPrefill(step, result.Values)
	active.mu.Unlock()
	if err != nil {
		return PrefillResult{}, err
	}

	metrics.ObservePrefilledFields(len(result.Values))
	s.logger.Debug("prefill computed",
		"run_id", runID,
		"step", step,
		"scope", sel.Scope,
		"resolved", len(result.Values),
		"applied", len(result.Applied),
	)
	return result, nil
}

func prefillFields(st workflow.Step) []workflow.Field {
	switch body := st.Body.(type) {
	case workflow.Prompt:
		return body.Fields
	case workflow.Input:
		if body.Name != "" {
			return []workflow.Field{{Name: body.Name, Label: body.Label, Type: workflow.FieldTextarea}}
		}
	}
	return nil
}

// Complete records usage for a finished run and discards it. A failure to
// record usage is logged; the run still counts as complete for the user.
func (s *Service) Complete(ctx context.Context, actor Actor, runID uuid.UUID) (Snapshot, error) {
	active, err := s.lookup(actor, runID)
	if err != nil {
		return Snapshot{}, err
	}

	active.mu.Lock()
	defer active.mu.Unlock()

	if !active.run.IsComplete() {
		return Snapshot{}, fmt.Errorf("%w: on step %d", ErrRunIncomplete, active.run.Current())
	}

	if !s.remove(active) {
		return Snapshot{}, ErrRunNotFound
	}

	if err := s.counter.RecordRun(ctx, actor.Identity, runID); err != nil {
		s.logger.Warn("usage record failed",
			"run_id", runID,
			"identity", actor.Identity.Kind(),
			"error", err,
		)
	}

	s.logger.Info("workflow run completed", "run_id", runID, "workflow", active.slug)
	return active.snapshot(), nil
}

// Abandon discards a run without counting it.
func (s *Service) Abandon(actor Actor, runID uuid.UUID) error {
	active, err := s.lookup(actor, runID)
	if err != nil {
		return err
	}
	if !s.remove(active) {
		return ErrRunNotFound
	}
	s.logger.Info("workflow run abandoned", "run_id", runID, "workflow", active.slug)
	return nil
}

func (s *Service) remove(active *activeRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[active.id] != active {
		return false
	}
	delete(s.runs, active.id)
	return true
}

// EndSession drops the session's override and every run it owns.
func (s *Service) EndSession(sessionID string) {
	s.sessions.End(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, active := range s.runs {
		if active.sessionID == sessionID {
			delete(s.runs, id)
		}
	}
}

type SweepResult struct {
	Runs     int
	Sessions int
}

// Sweep discards runs untouched for longer than maxIdle, then sessions idle
// as long that no longer own a run. Swept runs are not counted as usage.
func (s *Service) Sweep(maxIdle time.Duration) SweepResult {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	var res SweepResult
	live := make(map[string]bool, len(s.runs))
	for id, active := range s.runs {
		if active.lastActive.Before(cutoff) {
			delete(s.runs, id)
			res.Runs++
			s.logger.Info("idle workflow run expired", "run_id", id, "workflow", active.slug)
			continue
		}
		live[active.sessionID] = true
	}
	s.mu.Unlock()

	res.Sessions = s.sessions.Sweep(cutoff, func(id string) bool { return live[id] })
	return res
}

// ActiveRuns reports how many runs are in progress.
func (s *Service) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}
