package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/registry"
)

// ValidateResult summarises a valid description directory.
type ValidateResult struct {
	Endpoints   []string `json:"endpoints"`
	Warnings    []string `json:"warnings,omitempty"`
	Fingerprint string   `json:"fingerprint"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Load and cross-check endpoint descriptions",
		Long: `Load every description in the directory the same way the server does at
startup, and report every configuration error and warning found.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(cmd, rootOpts, dir)
		},
	}
	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, dir string) error {
	out := cmd.OutOrStdout()

	m, err := registry.NewManager(cmd.Context(), registry.Config{Dir: dir})
	if err != nil {
		problems := configProblems(err)
		code := ExitFailure
		if problems == nil {
			problems = []string{err.Error()}
			code = ExitCommandError
		}
		if opts.Format == "json" {
			if werr := writeJSON(out, Response{Status: "error", Errors: problems}); werr != nil {
				return werr
			}
		} else {
			fmt.Fprintf(out, "✗ %d problem(s) in %s\n", len(problems), dir)
			for _, p := range problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
		}
		return &ExitError{Code: code, Message: "validation failed", Err: err}
	}

	snap := m.CurrentSnapshot()
	result := ValidateResult{
		Endpoints:   snap.Registry.Names(),
		Warnings:    snap.Warnings,
		Fingerprint: snap.Fingerprint,
	}
	if opts.Format == "json" {
		return writeJSON(out, Response{Status: "ok", Data: result})
	}

	fmt.Fprintf(out, "✓ %d endpoint(s) valid\n", len(result.Endpoints))
	for _, name := range result.Endpoints {
		fmt.Fprintf(out, "  %s\n", name)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

// configProblems flattens description errors. It returns nil for errors
// unrelated to the descriptions themselves.
func configProblems(err error) []string {
	var errs apperr.ConfigurationErrors
	if errors.As(err, &errs) {
		out := make([]string, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Error())
		}
		return out
	}
	var single *apperr.ConfigurationError
	if errors.As(err, &single) {
		return []string{single.Error()}
	}
	return nil
}
