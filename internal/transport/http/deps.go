// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/promptflow/internal/entitlement"
	"github.com/adiadia/promptflow/internal/prefill"
	"github.com/adiadia/promptflow/internal/runtime"
	"github.com/adiadia/promptflow/internal/workflow"
	"github.com/google/uuid"
)

type WorkflowCatalog interface {
	Get(slug string) (workflow.Workflow, bool)
	List() []workflow.Workflow
}

type RunService interface {
	Entitlement(ctx context.Context, actor runtime.Actor) entitlement.Result
	ContinueAnyway(ctx context.Context, actor runtime.Actor) entitlement.Result
	Start(ctx context.Context, actor runtime.Actor, slug string) (runtime.Snapshot, entitlement.Result, error)
	Snapshot(actor runtime.Actor, runID uuid.UUID) (runtime.Snapshot, error)
	SetFields(actor runtime.Actor, runID uuid.UUID, step int, values map[string]string) (runtime.Snapshot, error)
	SetInput(actor runtime.Actor, runID uuid.UUID, step int, text string) (runtime.Snapshot, error)
	Acknowledge(actor runtime.Actor, runID uuid.UUID, step int) (runtime.Snapshot, error)
	ToggleItem(actor runtime.Actor, runID uuid.UUID, step, item int, checked bool) (runtime.Snapshot, error)
	Prefill(ctx context.Context, actor runtime.Actor, runID uuid.UUID, step int, sel prefill.Selection) (runtime.PrefillResult, error)
	Render(actor runtime.Actor, runID uuid.UUID, step int) (string, error)
	Advance(actor runtime.Actor, runID uuid.UUID) (runtime.Snapshot, error)
	Back(actor runtime.Actor, runID uuid.UUID) (runtime.Snapshot, error)
	Complete(ctx context.Context, actor runtime.Actor, runID uuid.UUID) (runtime.Snapshot, error)
	Abandon(actor runtime.Actor, runID uuid.UUID) error
}

type AliasAdder interface {
	Add(ctx context.Context, a prefill.Alias) error
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
