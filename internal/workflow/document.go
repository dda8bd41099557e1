// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// stepDocument is the flat authoring form of a step, shared by YAML
// definitions and JSON responses.
type stepDocument struct {
	Type        StepType `yaml:"type" json:"type"`
	Number      int      `yaml:"number" json:"number"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`

	SOP `yaml:",inline"`

	PromptTemplate string  `yaml:"prompt_template,omitempty" json:"prompt_template,omitempty"`
	Fields         []Field `yaml:"fields,omitempty" json:"fields,omitempty"`

	InstructionText string `yaml:"instruction_text,omitempty" json:"instruction_text,omitempty"`
	Icon            string `yaml:"icon,omitempty" json:"icon,omitempty"`

	InputLabel       string `yaml:"input_label,omitempty" json:"input_label,omitempty"`
	Placeholder      string `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	InputDescription string `yaml:"input_description,omitempty" json:"input_description,omitempty"`
	InputName        string `yaml:"input_name,omitempty" json:"input_name,omitempty"`

	Items    []CheckpointItem `yaml:"items,omitempty" json:"items,omitempty"`
	Blocking *bool            `yaml:"blocking,omitempty" json:"blocking,omitempty"`
}

func (d stepDocument) step() (Step, error) {
	s := Step{
		Number:      d.Number,
		Title:       d.Title,
		Description: d.Description,
		SOP:         d.SOP,
	}

	switch d.Type {
	case StepPrompt:
		s.Body = Prompt{Template: d.PromptTemplate, Fields: d.Fields}
	case StepInstruction:
		s.Body = Instruction{Text: d.InstructionText, Icon: d.Icon}
	case StepInput:
		s.Body = Input{
			Label:       d.InputLabel,
			Placeholder: d.Placeholder,
			Description: d.InputDescription,
			Name:        d.InputName,
		}
	case StepCheckpoint:
		blocking := true
		if d.Blocking != nil {
			blocking = *d.Blocking
		}
		s.Body = Checkpoint{Items: d.Items, Blocking: blocking}
	default:
		return Step{}, fmt.Errorf("%w: step %d has unknown type %q", ErrInvalidWorkflow, d.Number, d.Type)
	}

	return s, nil
}

func documentFor(s Step) stepDocument {
	d := stepDocument{
		Type:        s.Type(),
		Number:      s.Number,
		Title:       s.Title,
		Description: s.Description,
		SOP:         s.SOP,
	}

	switch body := s.Body.(type) {
	case Prompt:
		d.PromptTemplate = body.Template
		d.Fields = body.Fields
	case Instruction:
		d.InstructionText = body.Text
		d.Icon = body.Icon
	case Input:
		d.InputLabel = body.Label
		d.Placeholder = body.Placeholder
		d.InputDescription = body.Description
		d.InputName = body.Name
	case Checkpoint:
		blocking := body.Blocking
		d.Items = body.Items
		d.Blocking = &blocking
	}

	return d
}

func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var doc stepDocument
	if err := value.Decode(&doc); err != nil {
		return err
	}

	step, err := doc.step()
	if err != nil {
		return err
	}
	*s = step
	return nil
}

func (s Step) MarshalYAML() (any, error) {
	return documentFor(s), nil
}

func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(documentFor(s))
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var doc stepDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	step, err := doc.step()
	if err != nil {
		return err
	}
	*s = step
	return nil
}
