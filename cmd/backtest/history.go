package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/homebox25/Quant-Tutorials/pkg/backtest"
	"github.com/homebox25/Quant-Tutorials/pkg/config"
	"github.com/homebox25/Quant-Tutorials/pkg/publish"
	"github.com/homebox25/Quant-Tutorials/pkg/runner"
)

func newHistoryCmd(opts *runner.Options) *cobra.Command {
	var (
		pipeline string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the SQLite run store",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := runner.New(*opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer r.Close()

			runs, err := r.History(cmd.Context(), pipeline, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tPIPELINE\tSYMBOLS\tCURVE\tRETURN\tSHARPE\tMAX DD\tKELLY")
			for _, run := range runs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.2f%%\t%.3f\t%.2f%%\t%.4f\n",
					run.ID, run.StartedAt.Format("2006-01-02 15:04"), run.Pipeline, strings.Join(run.Symbols, "/"),
					run.Curve, run.TotalReturn*100, run.Sharpe, run.MaxDrawdown*100, run.KellyFraction)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&pipeline, "pipeline", "", "only runs of this pipeline")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func newWatchCmd(opts *runner.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print run summaries published to NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := runner.New(*opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer r.Close()

			cfg := r.Config().NATS
			if !cfg.Enabled() {
				return fmt.Errorf("nats.url is not configured")
			}
			nc, err := nats.Connect(cfg.URL, nats.Name(cfg.Name+"-watch"), nats.Timeout(cfg.Timeout))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			out := cmd.OutOrStdout()
			log := r.Logger()
			subject := cfg.Subject + ".>"
			sub, err := publish.Subscribe(nc, subject, log, func(subj string, st *structpb.Struct) {
				fmt.Fprintln(out, formatSummary(subj, st))
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
			}
			defer sub.Unsubscribe()

			log.Info().Str("subject", subject).Msg("watching run summaries")
			<-cmd.Context().Done()
			return nil
		},
	}
}

func formatSummary(subject string, st *structpb.Struct) string {
	f := st.GetFields()
	line := fmt.Sprintf("[%s] %s", subject, f["started_at"].GetStringValue())
	if k, ok := f["kelly_fraction"]; ok {
		line += fmt.Sprintf(" kelly=%.4f", k.GetNumberValue())
	}
	if c, ok := f["curves"].GetStructValue().GetFields()[backtest.CurveKelly]; ok {
		cf := c.GetStructValue().GetFields()
		line += fmt.Sprintf(" return=%.2f%% sharpe=%.3f",
			cf["total_return"].GetNumberValue()*100, cf["sharpe"].GetNumberValue())
	}
	if w := f["warnings"].GetListValue().GetValues(); len(w) > 0 {
		line += fmt.Sprintf(" warnings=%d", len(w))
	}
	return line
}

func newInitConfigCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", abs)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "out", "backtest.yaml", "destination file")
	return cmd
}
