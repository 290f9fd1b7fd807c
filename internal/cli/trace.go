package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/conductor"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database     string
	DeviceID     string
	ResolutionID string
	Limit        int
}

// TraceResult holds the trace output.
type TraceResult struct {
	Commands []conductor.CommandRecord `json:"commands"`
	Stats    TraceStats                `json:"stats"`
}

// TraceStats summarizes a trace.
type TraceStats struct {
	Total   int            `json:"total"`
	Failed  int            `json:"failed"`
	Devices map[string]int `json:"devices"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List journaled device commands",
		Long: `List the device commands recorded in a conductor journal, oldest
first. With --limit only the most recent commands are shown.

Examples:
  tsr trace --db ./tsr.db
  tsr trace --db ./tsr.db --device desk0 --limit 20
  tsr trace --db ./tsr.db --resolution 0192e4c1-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.DeviceID, "device", "", "only commands for this device")
	cmd.Flags().StringVar(&opts.ResolutionID, "resolution", "", "only commands from this resolution")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent n commands (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// Opening would create an empty journal.
	if _, err := os.Stat(opts.Database); errors.Is(err, fs.ErrNotExist) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("journal not found: %s", opts.Database), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Database))
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "limit must be non-negative")
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	records, err := j.ListCommands(cmd.Context(), journal.Filter{
		DeviceID:     opts.DeviceID,
		ResolutionID: opts.ResolutionID,
		Limit:        opts.Limit,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list commands", err)
	}

	result := TraceResult{
		Commands: records,
		Stats:    TraceStats{Total: len(records), Devices: map[string]int{}},
	}
	if result.Commands == nil {
		result.Commands = []conductor.CommandRecord{}
	}
	for _, r := range records {
		result.Stats.Devices[r.DeviceID]++
		if r.Error != "" {
			result.Stats.Failed++
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputTraceText(formatter, result)
}

func outputTraceText(f *OutputFormatter, result TraceResult) error {
	if len(result.Commands) == 0 {
		fmt.Fprintln(f.Writer, "No commands found.")
		return nil
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSCHEDULED\tEXECUTED\tDEVICE\tOBJECT\tCONTEXT\tPAYLOAD\tERROR")
	for _, r := range result.Commands {
		errText := "-"
		if r.Error != "" {
			errText = r.Error
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.Scheduled, r.Executed, r.DeviceID, r.ObjectID, r.Context, r.Payload, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(f.Writer, "\n%d command(s), %d failed\n", result.Stats.Total, result.Stats.Failed)
	return nil
}
