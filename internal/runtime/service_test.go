// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adiadia/promptflow/internal/domain"
	"github.com/adiadia/promptflow/internal/entitlement"
	"github.com/adiadia/promptflow/internal/prefill"
	"github.com/adiadia/promptflow/internal/usage"
	"github.com/adiadia/promptflow/internal/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outreachWorkflow() workflow.Workflow {
	return workflow.Workflow{
		Slug:  "cold-outreach",
		Title: "Cold outreach",
		Steps: []workflow.Step{
			{Number: 1, Title: "Paste their site", Body: workflow.Input{Label: "Homepage copy", Name: "site_copy"}},
			{Number: 2, Title: "Draft", Body: workflow.Prompt{
				Template: "From {{sender_name}} to {{client_name}} about {{site_copy}}",
				Fields: []workflow.Field{
					{Name: "sender_name", Label: "Your name", Type: workflow.FieldText, Required: true},
					{Name: "client_name", Label: "Client name", Type: workflow.FieldText},
				},
			}},
			{Number: 3, Title: "Open a new chat", Body: workflow.Instruction{Text: "Start a fresh chat"}},
			{Number: 4, Title: "Review", Body: workflow.Checkpoint{
				Items:    []workflow.CheckpointItem{{Label: "Personalised", Required: true}},
				Blocking: true,
			}},
		},
	}
}

type stubGate struct {
	result entitlement.Result
	calls  int
}

func (g *stubGate) Check(ctx context.Context, id usage.Identity, session *entitlement.Session) entitlement.Result {
	g.calls++
	if session.Overridden() {
		return entitlement.Result{Decision: entitlement.Allowed, Overridden: true}
	}
	return g.result
}

type recordingCounter struct {
	runs []uuid.UUID
	err  error
}

func (c *recordingCounter) RecordRun(ctx context.Context, id usage.Identity, runID uuid.UUID) error {
	c.runs = append(c.runs, runID)
	return c.err
}

type memoryPresets struct {
	profile domain.Profile
	clients []domain.ClientPreset
}

func (m *memoryPresets) GetProfile(ctx context.Context, userID uuid.UUID) (domain.Profile, bool, error) {
	return m.profile, m.profile.DisplayName != "", nil
}

func (m *memoryPresets) ListClientPresets(ctx context.Context, userID uuid.UUID) ([]domain.ClientPreset, error) {
	return m.clients, nil
}

type fixture struct {
	svc     *Service
	gate    *stubGate
	counter *recordingCounter
	presets *memoryPresets
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	catalog, err := workflow.NewCatalog(outreachWorkflow())
	require.NoError(t, err)

	f := fixture{
		gate:    &stubGate{result: entitlement.Result{Decision: entitlement.Allowed}},
		counter: &recordingCounter{},
		presets: &memoryPresets{},
	}
	f.svc = NewService(Config{
		Catalog: catalog,
		Gate:    f.gate,
		Counter: f.counter,
		Presets: f.presets,
	})
	return f
}

func userActor() Actor {
	return Actor{Identity: usage.User(uuid.New()), SessionID: "sess-user"}
}

func anonActor() Actor {
	return Actor{Identity: usage.Anonymous(usage.NewMemoryCounter(0)), SessionID: "sess-anon"}
}

func TestStartUnknownWorkflow(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Start(context.Background(), userActor(), "missing")
	require.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	assert.Zero(t, f.gate.calls)
}

func TestStartBlockedThenContinueAnyway(t *testing.T) {
	f := newFixture(t)
	f.gate.result = entitlement.Result{Decision: entitlement.HardBlocked, Reason: entitlement.ReasonSignUpHard}
	actor := anonActor()

	_, res, err := f.svc.Start(context.Background(), actor, "cold-outreach")
	require.ErrorIs(t, err, ErrEntitlementBlocked)
	assert.Equal(t, entitlement.ReasonSignUpHard, res.Reason)
	assert.Zero(t, f.svc.ActiveRuns())

	res = f.svc.ContinueAnyway(context.Background(), actor)
	assert.Equal(t, entitlement.Allowed, res.Decision)

	snap, res, err := f.svc.Start(context.Background(), actor, "cold-outreach")
	require.NoError(t, err)
	assert.True(t, res.Overridden)
	assert.Equal(t, 1, snap.State.CurrentStep)
	assert.Equal(t, "cold-outreach", snap.Workflow)
}

func TestSoftWarnStillStarts(t *testing.T) {
	f := newFixture(t)
	f.gate.result = entitlement.Result{Decision: entitlement.SoftWarn, Reason: entitlement.ReasonSignUpSoft}

	_, res, err := f.svc.Start(context.Background(), anonActor(), "cold-outreach")
	require.NoError(t, err)
	assert.Equal(t, entitlement.SoftWarn, res.Decision)
}

func TestFullRunCountsOnceOnCompletion(t *testing.T) {
	f := newFixture(t)
	actor := anonActor()
	ctx := context.Background()

	snap, _, err := f.svc.Start(ctx, actor, "cold-outreach")
	require.NoError(t, err)
	id := snap.ID

	_, err = f.svc.Advance(actor, id)
	require.ErrorIs(t, err, workflow.ErrStepUnsatisfied)

	_, err = f.svc.SetInput(actor, id, 1, "We build boats")
	require.NoError(t, err)
	snap, err = f.svc.Advance(actor, id)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.State.CurrentStep)

	snap, err = f.svc.SetFields(actor, id, 2, map[string]string{"sender_name": "Dana", "client_name": "Lee"})
	require.NoError(t, err)
	assert.True(t, snap.Satisfied)

	text, err := f.svc.Render(actor, id, 2)
	require.NoError(t, err)
	assert.Equal(t, "From Dana to Lee about We build boats", text)

	_, err = f.svc.Advance(actor, id)
	require.NoError(t, err)
	_, err = f.svc.Acknowledge(actor, id, 3)
	require.NoError(t, err)
	_, err = f.svc.Advance(actor, id)
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, actor, id)
	require.ErrorIs(t, err, ErrRunIncomplete)
	assert.Empty(t, f.counter.runs)

	_, err = f.svc.ToggleItem(actor, id, 4, 0, true)
	require.NoError(t, err)
	snap, err = f.svc.Advance(actor, id)
	require.NoError(t, err)
	assert.True(t, snap.State.Complete)

	_, err = f.svc.Complete(ctx, actor, id)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, f.counter.runs)

	_, err = f.svc.Complete(ctx, actor, id)
	require.ErrorIs(t, err, ErrRunNotFound)
	assert.Len(t, f.counter.runs, 1)
}

func TestCompleteSurvivesUsageFailure(t *testing.T) {
	f := newFixture(t)
	f.counter.err = errors.New("db down")
	actor := userActor()
	ctx := context.Background()

	snap, _, err := f.svc.Start(ctx, actor, "cold-outreach")
	require.NoError(t, err)
	id := snap.ID

	steps := []func() error{
		func() error { _, err := f.svc.SetInput(actor, id, 1, "copy"); return err },
		func() error { _, err := f.svc.Advance(actor, id); return err },
		func() error { _, err := f.svc.SetFields(actor, id, 2, map[string]string{"sender_name": "Dana"}); return err },
		func() error { _, err := f.svc.Advance(actor, id); return err },
		func() error { _, err := f.svc.Acknowledge(actor, id, 3); return err },
		func() error { _, err := f.svc.Advance(actor, id); return err },
		func() error { _, err := f.svc.ToggleItem(actor, id, 4, 0, true); return err },
		func() error { _, err := f.svc.Advance(actor, id); return err },
	}
	for i, step := range steps {
		require.NoError(t, step(), "action %d", i)
	}

	_, err = f.svc.Complete(ctx, actor, id)
	require.NoError(t, err)
	assert.Zero(t, f.svc.ActiveRuns())
}

func TestBackKeepsAnswers(t *testing.T) {
	f := newFixture(t)
	actor := anonActor()

	snap, _, err := f.svc.Start(context.Background(), actor, "cold-outreach")
	require.NoError(t, err)
	id := snap.ID

	_, err = f.svc.Back(actor, id)
	require.ErrorIs(t, err, workflow.ErrAtFirstStep)

	_, err = f.svc.SetInput(actor, id, 1, "draft copy")
	require.NoError(t, err)
	_, err = f.svc.Advance(actor, id)
	require.NoError(t, err)

	snap, err = f.svc.Back(actor, id)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.State.CurrentStep)
	assert.Equal(t, "draft copy", snap.State.InputValues[1])

	snap, err = f.svc.Advance(actor, id)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.State.CurrentStep)
}

func TestRunsAreBoundToSession(t *testing.T) {
	f := newFixture(t)
	owner := anonActor()
	other := Actor{Identity: owner.Identity, SessionID: "someone-else"}

	snap, _, err := f.svc.Start(context.Background(), owner, "cold-outreach")
	require.NoError(t, err)

	_, err = f.svc.Snapshot(other, snap.ID)
	require.ErrorIs(t, err, ErrRunNotFound)
	require.ErrorIs(t, f.svc.Abandon(other, snap.ID), ErrRunNotFound)

	require.NoError(t, f.svc.Abandon(owner, snap.ID))
	_, err = f.svc.Snapshot(owner, snap.ID)
	require.ErrorIs(t, err, ErrRunNotFound)
	assert.Empty(t, f.counter.runs, "abandoning never counts usage")
}

func TestPrefillFromProfileAndClient(t *testing.T) {
	f := newFixture(t)
	acme := domain.ClientPreset{ID: uuid.New(), Name: "Acme", Attributes: map[string]string{"name": "Lee"}}
	f.presets.profile = domain.Profile{DisplayName: "Dana", Attributes: map[string]string{"name": "Dana"}}
	f.presets.clients = []domain.ClientPreset{acme}
	actor := userActor()
	ctx := context.Background()

	snap, _, err := f.svc.Start(ctx, actor, "cold-outreach")
	require.NoError(t, err)
	id := snap.ID

	res, err := f.svc.Prefill(ctx, actor, id, 2, prefill.Selection{Scope: prefill.ScopeSelf})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sender_name": "Dana"}, res.Values)
	assert.Equal(t, []string{"sender_name"}, res.Applied)
	assert.Equal(t, "Dana", res.Provenance["sender_name"].SourceName)

	res, err = f.svc.Prefill(ctx, actor, id, 2, prefill.Selection{Scope: prefill.ScopeClient, ClientID: acme.ID})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"client_name": "Lee"}, res.Values)
	assert.Equal(t, []string{"client_name"}, res.Applied)

	snap, err = f.svc.Snapshot(actor, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sender_name": "Dana", "client_name": "Lee"}, snap.State.FieldValues[2])

	_, err = f.svc.SetFields(actor, id, 2, map[string]string{"sender_name": "D."})
	require.NoError(t, err)
	res, err = f.svc.Prefill(ctx, actor, id, 2, prefill.Selection{Scope: prefill.ScopeSelf})
	require.NoError(t, err)
	assert.Empty(t, res.Applied, "prefill never overwrites user answers")

	_, err = f.svc.Prefill(ctx, actor, id, 2, prefill.Selection{Scope: prefill.ScopeClient, ClientID: uuid.New()})
	require.ErrorIs(t, err, domain.ErrPresetNotFound)

	_, err = f.svc.Prefill(ctx, actor, id, 2, prefill.Selection{Scope: prefill.ScopeClient})
	require.ErrorIs(t, err, prefill.ErrInvalidSelection)
	_, err = f.svc.Prefill(ctx, actor, id, 2, prefill.Selection{Scope: "bogus"})
	require.ErrorIs(t, err, prefill.ErrInvalidSelection)
}

func TestPrefillAnonymousIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.presets.profile = domain.Profile{DisplayName: "Dana", Attributes: map[string]string{"name": "Dana"}}
	actor := anonActor()

	snap, _, err := f.svc.Start(context.Background(), actor, "cold-outreach")
	require.NoError(t, err)

	res, err := f.svc.Prefill(context.Background(), actor, snap.ID, 2, prefill.Selection{Scope: prefill.ScopeSelf})
	require.NoError(t, err)
	assert.Empty(t, res.Values)
	assert.Empty(t, res.Applied)
}

func TestEndSessionDropsRunsAndOverride(t *testing.T) {
	f := newFixture(t)
	actor := anonActor()
	f.gate.result = entitlement.Result{Decision: entitlement.HardBlocked}

	f.svc.ContinueAnyway(context.Background(), actor)
	_, _, err := f.svc.Start(context.Background(), actor, "cold-outreach")
	require.NoError(t, err)
	require.Equal(t, 1, f.svc.ActiveRuns())

	f.svc.EndSession(actor.SessionID)
	assert.Zero(t, f.svc.ActiveRuns())

	_, _, err = f.svc.Start(context.Background(), actor, "cold-outreach")
	require.ErrorIs(t, err, ErrEntitlementBlocked)
}

func TestSweepExpiresIdleRunsOnly(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.svc.now = func() time.Time { return now }

	idle := userActor()
	busy := anonActor()
	ctx := context.Background()

	idleRun, _, err := f.svc.Start(ctx, idle, "cold-outreach")
	require.NoError(t, err)
	busyRun, _, err := f.svc.Start(ctx, busy, "cold-outreach")
	require.NoError(t, err)

	now = now.Add(3 * time.Hour)
	_, err = f.svc.Snapshot(busy, busyRun.ID)
	require.NoError(t, err)

	res := f.svc.Sweep(2 * time.Hour)
	assert.Equal(t, 1, res.Runs)
	assert.Equal(t, 1, res.Sessions, "only the session without a live run is dropped")
	assert.Equal(t, 1, f.svc.ActiveRuns())

	_, err = f.svc.Snapshot(idle, idleRun.ID)
	require.ErrorIs(t, err, ErrRunNotFound)
	assert.Empty(t, f.counter.runs, "expired runs are not usage")
}
