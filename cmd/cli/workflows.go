// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/adiadia/promptflow/internal/workflow"
	"github.com/spf13/cobra"
)

func newValidateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Load and validate every workflow definition in dir (default: workflows)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "workflows"
			if len(args) == 1 {
				dir = args[0]
			}

			catalog, err := workflow.LoadFS(os.DirFS(dir))
			loaded := 0
			if catalog != nil {
				loaded = len(catalog.List())
			}
			if err != nil {
				logger.Error("workflow validation failed", "dir", dir, "loaded", loaded, "error", err)
				return err
			}

			for _, wf := range catalog.List() {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok  %-32s %d steps\n", wf.Slug, len(wf.Steps))
			}
			logger.Info("workflow validation passed", "dir", dir, "loaded", loaded)
			return nil
		},
	}
}

func newRenderCmd() *cobra.Command {
	var (
		step int
		sets []string
	)

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render one prompt step of a workflow file with the given values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			wf, err := workflow.Parse(data)
			if err != nil {
				return err
			}

			values, err := parseAssignments(sets)
			if err != nil {
				return err
			}

			return renderStep(cmd.OutOrStdout(), wf, step, values)
		},
	}

	cmd.Flags().IntVar(&step, "step", 1, "prompt step number to render")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "name=value for a field of the step or an earlier input step (repeatable)")
	return cmd
}

// renderStep fills values into the target prompt step's fields, or into
// earlier input steps that bind the same name, then prints the prompt.
func renderStep(w io.Writer, wf workflow.Workflow, step int, values map[string]string) error {
	run, err := workflow.NewRun(wf.Steps)
	if err != nil {
		return err
	}

	target, err := run.Step(step)
	if err != nil {
		return err
	}
	prompt, ok := target.Body.(workflow.Prompt)
	if !ok {
		return fmt.Errorf("%w: step %d is a %s step", workflow.ErrWrongStepType, step, target.Type())
	}

	inputs := make(map[string]int)
	for _, s := range wf.Steps {
		if in, ok := s.Body.(workflow.Input); ok && in.Name != "" && s.Number < step {
			inputs[in.Name] = s.Number
		}
	}

	for name, value := range values {
		if _, ok := prompt.Field(name); ok {
			if err := run.SetField(step, name, value); err != nil {
				return err
			}
			continue
		}
		if n, ok := inputs[name]; ok {
			if err := run.SetInput(n, value); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("%w: %q is not a field of step %d or an earlier input", workflow.ErrUnknownField, name, step)
	}

	text, err := run.Render(step)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, text)
	return err
}

func parseAssignments(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.New("invalid --set " + kv + " (expected name=value)")
		}
		out[name] = value
	}
	return out, nil
}
