// SPDX-License-Identifier: Apache-2.0

// Package workflow holds workflow definitions and the per-run step state machine.
package workflow

type StepType string

const (
	StepPrompt      StepType = "prompt"
	StepInstruction StepType = "instruction"
	StepInput       StepType = "input"
	StepCheckpoint  StepType = "checkpoint"
)

type FieldType string

const (
	FieldText        FieldType = "text"
	FieldTextarea    FieldType = "textarea"
	FieldSelect      FieldType = "select"
	FieldMultiselect FieldType = "multiselect"
)

type ChatInstruction string

const (
	ChatNew           ChatInstruction = "new_chat"
	ChatSame          ChatInstruction = "same_chat"
	ChatPastePrevious ChatInstruction = "paste_previous"
)

// SOP carries the optional operating-procedure notes shown next to a step.
type SOP struct {
	Why             string          `yaml:"why,omitempty" json:"why,omitempty"`
	DurationMinutes int             `yaml:"duration_minutes,omitempty" json:"duration_minutes,omitempty"`
	QualityChecks   []string        `yaml:"quality_checks,omitempty" json:"quality_checks,omitempty"`
	CommonMistakes  []string        `yaml:"common_mistakes,omitempty" json:"common_mistakes,omitempty"`
	ChatInstruction ChatInstruction `yaml:"chat_instruction,omitempty" json:"chat_instruction,omitempty"`
}

type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Label    string    `yaml:"label" json:"label"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Options  []string  `yaml:"options,omitempty" json:"options,omitempty"`
}

type CheckpointItem struct {
	Label    string `yaml:"label" json:"label"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Step is one entry of a workflow. Body holds the type-specific part and is
// one of Prompt, Instruction, Input or Checkpoint.
type Step struct {
	Number      int
	Title       string
	Description string
	SOP         SOP
	Body        Body
}

// Body is the closed set of step variants.
type Body interface {
	stepType() StepType
}

type Prompt struct {
	Template string
	Fields   []Field
}

type Instruction struct {
	Text string
	Icon string
}

// Input collects raw pasted text. When Name is set the text is exposed to
// later prompt steps as the template variable of that name.
type Input struct {
	Label       string
	Placeholder string
	Description string
	Name        string
}

type Checkpoint struct {
	Items    []CheckpointItem
	Blocking bool
}

func (Prompt) stepType() StepType      { return StepPrompt }
func (Instruction) stepType() StepType { return StepInstruction }
func (Input) stepType() StepType       { return StepInput }
func (Checkpoint) stepType() StepType  { return StepCheckpoint }

// Type reports the step variant, or "" for a step without a body.
func (s Step) Type() StepType {
	if s.Body == nil {
		return ""
	}
	return s.Body.stepType()
}

// Field looks up a prompt field by name.
func (p Prompt) Field(name string) (Field, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
