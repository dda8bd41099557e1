// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks a step sequence before a run can be built from it. Step
// numbers must be exactly 1..N in order; every problem found is reported.
func Validate(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidWorkflow)
	}

	var errs []error
	seen := make(map[int]bool, len(steps))

	for i, s := range steps {
		want := i + 1
		switch {
		case seen[s.Number]:
			errs = append(errs, fmt.Errorf("%w: duplicate step number %d", ErrInvalidWorkflow, s.Number))
		case s.Number != want:
			errs = append(errs, fmt.Errorf("%w: expected step number %d, got %d", ErrInvalidWorkflow, want, s.Number))
		}
		seen[s.Number] = true

		errs = append(errs, validateStep(s)...)
	}

	return errors.Join(errs...)
}

func validateStep(s Step) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: step %d: %s", ErrInvalidWorkflow, s.Number, fmt.Sprintf(format, args...)))
	}

	if strings.TrimSpace(s.Title) == "" {
		fail("missing title")
	}

	switch s.SOP.ChatInstruction {
	case "", ChatNew, ChatSame, ChatPastePrevious:
	default:
		fail("unknown chat_instruction %q", s.SOP.ChatInstruction)
	}
	if s.SOP.DurationMinutes < 0 {
		fail("negative duration_minutes")
	}

	switch body := s.Body.(type) {
	case Prompt:
		if strings.TrimSpace(body.Template) == "" {
			fail("missing prompt_template")
		}
		names := make(map[string]bool, len(body.Fields))
		for _, f := range body.Fields {
			if strings.TrimSpace(f.Name) == "" {
				fail("field without name")
				continue
			}
			if names[f.Name] {
				fail("duplicate field %q", f.Name)
			}
			names[f.Name] = true

			switch f.Type {
			case FieldText, FieldTextarea:
			case FieldSelect, FieldMultiselect:
				if len(f.Options) == 0 {
					fail("field %q of type %s has no options", f.Name, f.Type)
				}
			default:
				fail("field %q has unknown type %q", f.Name, f.Type)
			}
		}
	case Instruction:
		if strings.TrimSpace(body.Text) == "" {
			fail("missing instruction_text")
		}
	case Input:
		if strings.TrimSpace(body.Label) == "" {
			fail("missing input_label")
		}
	case Checkpoint:
		if len(body.Items) == 0 {
			fail("checkpoint without items")
		}
		for i, item := range body.Items {
			if strings.TrimSpace(item.Label) == "" {
				fail("item %d without label", i)
			}
		}
	case nil:
		fail("missing step body")
	default:
		fail("unsupported step type %T", body)
	}

	return errs
}
