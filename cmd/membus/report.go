package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/membus/config"
	"github.com/sarchlab/membus/datarecording"
)

var reportTop int

var reportCmd = &cobra.Command{
	Use:   "report <recording.sqlite3>",
	Short: "Summarize a recording written by run --record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return report(cmd.Context(), cmd.OutOrStdout(), args[0], reportTop)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().IntVar(&reportTop, "top", 5,
		"Number of slowest accesses to list")
}

type genSummary struct {
	name         string
	count        int
	failed       int
	totalLatency int64
	maxLatency   int64
}

func report(ctx context.Context, out io.Writer, file string, top int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	reader, err := datarecording.NewReader(file)
	if err != nil {
		return err
	}
	defer reader.Close()

	reader.MapTable(config.TransferTable, datarecording.TransferEntry{})
	reader.MapTable(config.CompletionTable, datarecording.CompletionEntry{})

	if err := reportTransfers(ctx, out, reader); err != nil {
		return err
	}

	if err := reportCompletions(ctx, out, reader); err != nil {
		return err
	}

	if top > 0 {
		return reportSlowest(ctx, out, reader, top)
	}

	return nil
}

func reportTransfers(
	ctx context.Context,
	out io.Writer,
	reader datarecording.DataReader,
) error {
	for _, kind := range []string{
		datarecording.KindTransfer,
		datarecording.KindRefuse,
	} {
		_, count, err := reader.Query(ctx, config.TransferTable,
			datarecording.QueryParams{
				Where: "Kind = ?",
				Args:  []any{kind},
				Limit: 1,
			})
		if err != nil {
			return fmt.Errorf("counting %s: %w", kind, err)
		}

		fmt.Fprintf(out, "%s: %d\n", kind, count)
	}

	return nil
}

func reportCompletions(
	ctx context.Context,
	out io.Writer,
	reader datarecording.DataReader,
) error {
	rows, _, err := reader.Query(ctx, config.CompletionTable,
		datarecording.QueryParams{})
	if err != nil {
		return fmt.Errorf("reading completions: %w", err)
	}

	byGen := make(map[string]*genSummary)

	for _, row := range rows {
		e := row.(*datarecording.CompletionEntry)

		s, ok := byGen[e.Gen]
		if !ok {
			s = &genSummary{name: e.Gen}
			byGen[e.Gen] = s
		}

		s.count++
		s.totalLatency += e.Latency
		s.maxLatency = max(s.maxLatency, e.Latency)

		if !e.OK {
			s.failed++
		}
	}

	summaries := make([]*genSummary, 0, len(byGen))
	for _, s := range byGen {
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].name < summaries[j].name
	})

	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "generator\tcompleted\tfailed\tavg latency\tmax latency")

	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%d\n", s.name, s.count, s.failed,
			float64(s.totalLatency)/float64(s.count), s.maxLatency)
	}

	return w.Flush()
}

func reportSlowest(
	ctx context.Context,
	out io.Writer,
	reader datarecording.DataReader,
	top int,
) error {
	rows, _, err := reader.Query(ctx, config.CompletionTable,
		datarecording.QueryParams{
			OrderBy: "Latency DESC, Done ASC",
			Limit:   top,
		})
	if err != nil {
		return fmt.Errorf("reading completions: %w", err)
	}

	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "slowest\tgenerator\tcmd\taddr\tissued\tlatency")

	for _, row := range rows {
		e := row.(*datarecording.CompletionEntry)
		fmt.Fprintf(w, "%s\t%s\t%s\t%#x\t%d\t%d\n",
			e.ID, e.Gen, e.Cmd, e.Addr, e.Issued, e.Latency)
	}

	return w.Flush()
}
