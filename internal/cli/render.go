package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Saloed/GalaxyAPI/internal/binding"
	"github.com/Saloed/GalaxyAPI/internal/queryexec"
	"github.com/Saloed/GalaxyAPI/internal/registry"
	"github.com/Saloed/GalaxyAPI/internal/sqltemplate"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	Driver   string
	Params   map[string]string
	Page     int
	PageSize int
}

// RenderResult is the statement an endpoint request would execute.
type RenderResult struct {
	Endpoint       string `json:"endpoint"`
	Dialect        string `json:"dialect"`
	SQL            string `json:"sql"`
	Args           []any  `json:"args"`
	FiltersSkipped bool   `json:"filters_skipped,omitempty"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{}

	cmd := &cobra.Command{
		Use:   "render <endpoint>",
		Short: "Print the SQL and arguments an endpoint request would run",
		Long: `Bind request parameters to an endpoint exactly as the server does and
print the final statement with driver placeholders, without touching a
database.`,
		Example: `  galaxyctl render students --param faculty_id=3 --param name=ann
  galaxyctl render students --driver postgres --page 2 --page-size 50`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Driver, "driver", "sqlserver", "database driver whose placeholder style is used")
	cmd.Flags().StringToStringVarP(&opts.Params, "param", "p", nil, "request parameter (name=value), repeatable")
	cmd.Flags().IntVar(&opts.Page, "page", -1, "page number (pagination-enabled endpoints only)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 20, "page size used with --page")

	return cmd
}

func runRender(cmd *cobra.Command, rootOpts *RootOptions, opts *RenderOptions, name string) error {
	dialect, err := sqltemplate.DialectFor(opts.Driver)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "invalid --driver", Err: err}
	}

	m, err := registry.NewManager(cmd.Context(), registry.Config{Dir: rootOpts.Dir})
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "failed to load descriptions", Err: err}
	}
	ep, ok := m.Current().Get(name)
	if !ok {
		return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("unknown endpoint %q", name)}
	}

	bound, err := binding.Bind(ep, opts.Params)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "invalid parameters", Err: err}
	}

	var page *queryexec.Page
	if opts.Page >= 0 {
		if !ep.PaginationEnabled {
			return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("endpoint %q does not support pagination", name)}
		}
		if opts.PageSize <= 0 {
			return &ExitError{Code: ExitCommandError, Message: "--page-size must be positive"}
		}
		page = &queryexec.Page{Key: ep.Key, Size: opts.PageSize, Number: opts.Page}
	}

	built, err := queryexec.New(queryexec.Config{Dialect: dialect}).Build(ep, bound, page)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "failed to build query", Err: err}
	}

	result := RenderResult{
		Endpoint:       ep.Name,
		Dialect:        dialect.Name,
		SQL:            built.SQL,
		Args:           built.Args,
		FiltersSkipped: built.FiltersSkipped,
	}
	if result.Args == nil {
		result.Args = []any{}
	}

	out := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		return writeJSON(out, Response{Status: "ok", Data: result})
	}
	fmt.Fprintln(out, result.SQL)
	for i, arg := range result.Args {
		fmt.Fprintf(out, "  $%d = %v\n", i+1, arg)
	}
	if result.FiltersSkipped {
		fmt.Fprintln(out, "note: the statement cannot take filters; filter parameters were ignored")
	}
	return nil
}
