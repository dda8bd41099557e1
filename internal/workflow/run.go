// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// RunState is a detached copy of a run's progress and answers.
type RunState struct {
	CurrentStep    int                       `json:"current_step"`
	Complete       bool                      `json:"complete"`
	CompletedSteps []int                     `json:"completed_steps"`
	FieldValues    map[int]map[string]string `json:"field_values"`
	InputValues    map[int]string            `json:"input_values"`
	Acknowledged   []int                     `json:"acknowledged"`
	CheckedItems   map[int][]int             `json:"checked_items"`
}

// Run drives one user through a workflow's steps. A Run is owned by a single
// caller and is not safe for concurrent use.
type Run struct {
	steps []Step

	current   int
	complete  bool
	completed map[int]bool

	fieldValues  map[int]map[string]string
	inputValues  map[int]string
	acknowledged map[int]bool
	checked      map[int]map[int]bool
}

// NewRun validates steps and positions the run on step 1.
func NewRun(steps []Step) (*Run, error) {
	if err := Validate(steps); err != nil {
		return nil, err
	}

	return &Run{
		steps:        slices.Clone(steps),
		current:      1,
		completed:    make(map[int]bool, len(steps)),
		fieldValues:  make(map[int]map[string]string),
		inputValues:  make(map[int]string),
		acknowledged: make(map[int]bool),
		checked:      make(map[int]map[int]bool),
	}, nil
}

func (r *Run) Steps() []Step { return slices.Clone(r.steps) }

func (r *Run) Current() int { return r.current }

func (r *Run) IsComplete() bool { return r.complete }

// Step returns the step with number n.
func (r *Run) Step(n int) (Step, error) {
	if n < 1 || n > len(r.steps) {
		return Step{}, fmt.Errorf("%w: %d", ErrUnknownStep, n)
	}
	return r.steps[n-1], nil
}

// SetField records a value for one field of a prompt step.
func (r *Run) SetField(n int, name, value string) error {
	return r.SetFields(n, map[string]string{name: value})
}

// SetFields records several prompt field values at once. Nothing is written
// unless every name belongs to the step.
func (r *Run) SetFields(n int, values map[string]string) error {
	prompt, err := r.prompt(n)
	if err != nil {
		return err
	}
	for name := range values {
		if _, ok := prompt.Field(name); !ok {
			return fmt.Errorf("%w: %q on step %d", ErrUnknownField, name, n)
		}
	}

	fields := r.fieldValues[n]
	if fields == nil {
		fields = make(map[string]string, len(prompt.Fields))
		r.fieldValues[n] = fields
	}
	maps.Copy(fields, values)
	return nil
}

func (r *Run) SetInput(n int, text string) error {
	step, err := r.Step(n)
	if err != nil {
		return err
	}
	if _, ok := step.Body.(Input); !ok {
		return fmt.Errorf("%w: set input on %s step %d", ErrWrongStepType, step.Type(), n)
	}
	r.inputValues[n] = text
	return nil
}

// Acknowledge is the explicit "mark done" action of an instruction step.
func (r *Run) Acknowledge(n int) error {
	step, err := r.Step(n)
	if err != nil {
		return err
	}
	if _, ok := step.Body.(Instruction); !ok {
		return fmt.Errorf("%w: acknowledge %s step %d", ErrWrongStepType, step.Type(), n)
	}
	r.acknowledged[n] = true
	return nil
}

func (r *Run) SetItemChecked(n, item int, checked bool) error {
	step, err := r.Step(n)
	if err != nil {
		return err
	}
	cp, ok := step.Body.(Checkpoint)
	if !ok {
		return fmt.Errorf("%w: check item on %s step %d", ErrWrongStepType, step.Type(), n)
	}
	if item < 0 || item >= len(cp.Items) {
		return fmt.Errorf("%w: %d on step %d", ErrUnknownItem, item, n)
	}

	items := r.checked[n]
	if items == nil {
		items = make(map[int]bool, len(cp.Items))
		r.checked[n] = items
	}
	if checked {
		items[item] = true
	} else {
		delete(items, item)
	}
	return nil
}

// ApplyPrefill fills answers the user has not given yet. For prompt steps
// values are keyed by field name; for input steps by the bound input name.
// It returns the names that were applied.
func (r *Run) ApplyPrefill(n int, values map[string]string) ([]string, error) {
	step, err := r.Step(n)
	if err != nil {
		return nil, err
	}

	var applied []string
	switch body := step.Body.(type) {
	case Prompt:
		fields := r.fieldValues[n]
		for _, f := range body.Fields {
			v, ok := values[f.Name]
			if !ok || strings.TrimSpace(v) == "" || strings.TrimSpace(fields[f.Name]) != "" {
				continue
			}
			if fields == nil {
				fields = make(map[string]string, len(body.Fields))
				r.fieldValues[n] = fields
			}
			fields[f.Name] = v
			applied = append(applied, f.Name)
		}
	case Input:
		if body.Name == "" || strings.TrimSpace(r.inputValues[n]) != "" {
			break
		}
		if v := values[body.Name]; strings.TrimSpace(v) != "" {
			r.inputValues[n] = v
			applied = append(applied, body.Name)
		}
	}

	return applied, nil
}

// Satisfied reports whether step n meets its completion condition.
func (r *Run) Satisfied(n int) bool {
	step, err := r.Step(n)
	if err != nil {
		return false
	}

	switch body := step.Body.(type) {
	case Prompt:
		return r.promptSatisfied(n, body)
	case Instruction:
		return r.acknowledged[n]
	case Input:
		return strings.TrimSpace(r.inputValues[n]) != ""
	case Checkpoint:
		for i, item := range body.Items {
			if item.Required && !r.checked[n][i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// promptSatisfied checks required fields against the same variables Render
// uses, so a value bound by an earlier input step counts.
func (r *Run) promptSatisfied(n int, p Prompt) bool {
	vars := r.Variables(n)
	required := 0
	for _, f := range p.Fields {
		if !f.Required {
			continue
		}
		required++
		if strings.TrimSpace(vars[f.Name]) == "" {
			return false
		}
	}
	if required > 0 {
		return true
	}
	return strings.TrimSpace(RenderTemplate(p.Template, vars)) != ""
}

// CanAdvance reports whether Advance would move forward. Non-blocking
// checkpoints never hold the user back.
func (r *Run) CanAdvance() bool {
	if r.complete {
		return false
	}
	step := r.steps[r.current-1]
	if cp, ok := step.Body.(Checkpoint); ok && !cp.Blocking {
		return true
	}
	return r.Satisfied(r.current)
}

// Advance moves to the next step, or to the complete state after the last
// one. The run is left untouched when the current step is unsatisfied.
func (r *Run) Advance() error {
	if r.complete {
		return ErrRunComplete
	}
	if !r.CanAdvance() {
		return fmt.Errorf("%w: step %d", ErrStepUnsatisfied, r.current)
	}

	r.completed[r.current] = true
	if r.current == len(r.steps) {
		r.complete = true
		return nil
	}
	r.current++
	return nil
}

// Back returns to the previous step, or from the complete state to the last
// step. Recorded answers are kept.
func (r *Run) Back() error {
	if r.complete {
		r.complete = false
		return nil
	}
	if r.current == 1 {
		return ErrAtFirstStep
	}
	r.current--
	return nil
}

// Variables returns the template variables visible to step n: text bound
// by earlier input steps, overridden by the step's own non-empty fields.
func (r *Run) Variables(n int) map[string]string {
	vars := make(map[string]string)
	for _, s := range r.steps {
		if s.Number >= n {
			break
		}
		in, ok := s.Body.(Input)
		if !ok || in.Name == "" {
			continue
		}
		if v := r.inputValues[s.Number]; strings.TrimSpace(v) != "" {
			vars[in.Name] = v
		}
	}
	for name, v := range r.fieldValues[n] {
		if strings.TrimSpace(v) != "" {
			vars[name] = v
		}
	}
	return vars
}

// Render produces the prompt text of step n.
func (r *Run) Render(n int) (string, error) {
	prompt, err := r.prompt(n)
	if err != nil {
		return "", err
	}
	return RenderTemplate(prompt.Template, r.Variables(n)), nil
}

func (r *Run) prompt(n int) (Prompt, error) {
	step, err := r.Step(n)
	if err != nil {
		return Prompt{}, err
	}
	p, ok := step.Body.(Prompt)
	if !ok {
		return Prompt{}, fmt.Errorf("%w: %s step %d is not a prompt", ErrWrongStepType, step.Type(), n)
	}
	return p, nil
}

// State returns a copy of the run's progress that shares no memory with it.
func (r *Run) State() RunState {
	st := RunState{
		CurrentStep:    r.current,
		Complete:       r.complete,
		CompletedSteps: sortedKeys(r.completed),
		FieldValues:    make(map[int]map[string]string, len(r.fieldValues)),
		InputValues:    maps.Clone(r.inputValues),
		Acknowledged:   sortedKeys(r.acknowledged),
		CheckedItems:   make(map[int][]int, len(r.checked)),
	}
	for n, fields := range r.fieldValues {
		st.FieldValues[n] = maps.Clone(fields)
	}
	for n, items := range r.checked {
		st.CheckedItems[n] = sortedKeys(items)
	}
	return st
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k, ok := range set {
		if ok {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
