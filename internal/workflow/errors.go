// SPDX-License-Identifier: Apache-2.0

package workflow

import "errors"

var (
	ErrInvalidWorkflow = errors.New("invalid workflow")
	ErrStepUnsatisfied = errors.New("current step is not satisfied")
	ErrAtFirstStep     = errors.New("already at the first step")
	ErrRunComplete     = errors.New("run is already complete")
	ErrUnknownStep     = errors.New("unknown step")
	ErrWrongStepType   = errors.New("operation not supported for step type")
	ErrUnknownField    = errors.New("unknown field")
	ErrUnknownItem     = errors.New("unknown checkpoint item")
)
