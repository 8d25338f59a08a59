package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eutopia/collabdash/internal/app"
	"github.com/eutopia/collabdash/internal/dashboard"
	"github.com/eutopia/collabdash/internal/table"
)

// Output formats of the query command.
const (
	formatTable = "table"
	formatJSON  = "json"
)

type queryOptions struct {
	panel        string
	authorID     string
	fromYear     int
	toYear       int
	institutions []string
	format       string
	verbose      bool
}

func newQueryCmd(state *rootState) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run a query or dashboard panel through the cache",
		Long: `Runs literal SQL, or one dashboard panel, through the cached executor and
prints the result. Running the same text twice within the TTL is answered from
the cache.`,
		Example: `  collabdash query "SELECT COUNT(*) AS n FROM article"
  collabdash query --panel overview-cards --from 2018 --institution VUB --institution CY
  collabdash query --panel author-articles --author A1 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := ""
			if len(args) == 1 {
				sql = args[0]
			}
			if (sql == "") == (opts.panel == "") {
				return errors.New("give either SQL text or --panel, not both")
			}
			if opts.format != formatTable && opts.format != formatJSON {
				return fmt.Errorf("unknown format %q, want table or json", opts.format)
			}

			cfg := state.cfg
			if cmd.Flags().Changed("verbose") {
				cfg.Dashboard.Verbose = opts.verbose
			}

			a, err := state.openApp(cmd.Context(), cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return runQuery(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), a, sql, opts)
		},
	}

	cmd.Flags().StringVar(&opts.panel, "panel", "", "panel to render ("+panelList()+")")
	cmd.Flags().StringVar(&opts.authorID, "author", "", "author ID for author panels")
	cmd.Flags().IntVar(&opts.fromYear, "from", 0, "first publication year for overview panels")
	cmd.Flags().IntVar(&opts.toYear, "to", 0, "last publication year for overview panels")
	cmd.Flags().StringSliceVar(&opts.institutions, "institution", nil, "institution IDs for overview panels")
	cmd.Flags().StringVarP(&opts.format, "format", "o", formatTable, "output format: table or json")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "log cache hits, misses and fallbacks")

	return cmd
}

func runQuery(ctx context.Context, out, errOut io.Writer, a *app.App, sql string, opts queryOptions) error {
	exec := a.Executor()
	defer func() {
		if a.Verbose() {
			s := exec.Stats()
			_, _ = fmt.Fprintf(errOut, "cache: hits=%d misses=%d degraded=%d corrupt=%d\n",
				s.Hits, s.Misses, s.Degraded, s.Corrupt)
		}
	}()

	if sql != "" {
		t, err := exec.Query(ctx, sql)
		if err != nil {
			return err
		}
		return writeResult(out, "Query", t, opts.format)
	}

	svc := dashboard.NewService(exec, dashboard.WithRecommender(dashboard.NewRecommendationClient(
		a.Config().Recommendation.URL,
		time.Duration(a.Config().Recommendation.TimeoutSeconds)*time.Second,
	)))
	id := dashboard.PanelID(opts.panel)
	panel, err := svc.Load(ctx, id, dashboard.Params{
		AuthorID: strings.TrimSpace(opts.authorID),
		Scope:    dashboard.NewScope(opts.fromYear, opts.toYear, opts.institutions, svc.Now()),
	})
	if err != nil {
		return err
	}
	if panel.Unavailable {
		_, err = fmt.Fprintln(out, panel.Message)
		return err
	}
	return writeResult(out, panel.Title, panel.Table, opts.format)
}

func writeResult(w io.Writer, title string, t *table.Table, format string) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}
	return renderTable(w, title, t)
}

func panelList() string {
	ids := dashboard.PanelIDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ", ")
}
