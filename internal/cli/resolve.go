package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/resolver"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	At             int64
	MaxNowPasses   int
	LookaheadLimit int
	LookaheadMs    int64

	// Now returns the current time in ms when --at is not set. Tests
	// override it.
	Now func() int64
}

// ResolveOutput is the JSON form of a resolution.
type ResolveOutput struct {
	Time       int64                    `json:"time"`
	StateHash  string                   `json:"state_hash"`
	Layers     map[string]ResolvedLayer `json:"layers"`
	NextEvents []int64                  `json:"next_events"`
	Fixed      []timeline.FixedObject   `json:"fixed"`
	Pending    []string                 `json:"pending,omitempty"`
	Converged  bool                     `json:"converged"`
}

// ResolvedLayer is one active layer in ResolveOutput.
type ResolvedLayer struct {
	ObjectID string         `json:"object_id"`
	Start    int64          `json:"start"`
	End      *int64         `json:"end,omitempty"`
	Content  map[string]any `json:"content,omitempty"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{
		RootOptions: rootOpts,
		Now:         func() int64 { return time.Now().UnixMilli() },
	}

	cmd := &cobra.Command{
		Use:   "resolve <show>",
		Short: "Print the resolved state of a show at a time",
		Long: `Resolve a show file at one instant and print the active object per
layer, the upcoming event times and the "now" fixes that were applied.

Without --at the current wall-clock time is used.

Examples:
  tsr resolve ./show.cue --at 1500
  tsr resolve ./show.yaml --at 0 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("at") {
				opts.At = opts.Now()
			}
			return runResolve(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.At, "at", 0, "resolve time in ms (default: now)")
	cmd.Flags().IntVar(&opts.MaxNowPasses, "max-now-passes", resolver.DefaultMaxNowPasses, `maximum "now" refinement passes`)
	cmd.Flags().IntVar(&opts.LookaheadLimit, "lookahead-limit", resolver.DefaultBound.Limit, "maximum next events reported")
	cmd.Flags().Int64Var(&opts.LookaheadMs, "lookahead-ms", resolver.DefaultBound.Horizon, "lookahead horizon in ms")

	return cmd
}

func runResolve(opts *ResolveOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	show, err := LoadShow(path)
	if err != nil {
		var errs LoadErrors
		if errors.As(err, &errs) && len(errs) > 0 {
			_ = formatter.Error(errs[0].Code, errs[0].Message, errs)
		}
		return WrapExitError(ExitCommandError, "failed to load show", err)
	}

	bound := resolver.Bound{Limit: opts.LookaheadLimit, Horizon: opts.LookaheadMs}
	res := resolver.NewInterval()
	fixer := resolver.NewNowFixer(res, resolver.WithMaxPasses(opts.MaxNowPasses), resolver.WithFixerBound(bound))

	fix, err := fixer.Fix(show.Timeline, opts.At)
	if err != nil {
		_ = formatter.Error(ErrCodeResolveError, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to fix now", err)
	}
	resolved, err := res.Resolve(fix.Objects, opts.At, bound)
	if err != nil {
		_ = formatter.Error(ErrCodeResolveError, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to resolve", err)
	}
	state := resolver.StateAt(resolved, show.Mappings)
	hash, err := timeline.StateHash(state)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to hash state", err)
	}

	out := ResolveOutput{
		Time:       state.Time,
		StateHash:  hash,
		Layers:     map[string]ResolvedLayer{},
		NextEvents: append([]int64{}, state.NextEvents...),
		Fixed:      append([]timeline.FixedObject{}, fix.Fixed...),
		Pending:    fix.Pending,
		Converged:  fix.Converged,
	}
	for layer, rl := range state.Layers {
		out.Layers[layer] = ResolvedLayer{
			ObjectID: rl.Object.ID,
			Start:    rl.Instance.Start,
			End:      rl.Instance.End,
			Content:  rl.Object.Content,
		}
	}
	formatter.VerboseLog("Resolved %s at %d in %d now pass(es)", path, opts.At, fix.Passes)

	if formatter.JSON() {
		return formatter.Success(out)
	}
	writeResolveText(formatter, show, out)
	return nil
}

func writeResolveText(f *OutputFormatter, show *Show, out ResolveOutput) {
	w := f.Writer
	fmt.Fprintf(w, "State at %d (%s)\n", out.Time, out.StateHash)
	for _, layer := range show.Mappings.Layers() {
		rl, ok := out.Layers[layer]
		if !ok {
			fmt.Fprintf(w, "  %-20s -\n", layer)
			continue
		}
		end := "open"
		if rl.End != nil {
			end = fmt.Sprint(*rl.End)
		}
		fmt.Fprintf(w, "  %-20s %s [%d, %s)\n", layer, rl.ObjectID, rl.Start, end)
	}

	if len(out.NextEvents) == 0 {
		fmt.Fprintln(w, "Next events: none")
	} else {
		fmt.Fprintf(w, "Next events: %v\n", out.NextEvents)
	}

	if len(out.Fixed) == 0 {
		fmt.Fprintln(w, "Fixed now: none")
	} else {
		fmt.Fprintln(w, "Fixed now:")
		for _, fo := range out.Fixed {
			fmt.Fprintf(w, "  %s = %d\n", fo.ID, fo.Time)
		}
	}
	if !out.Converged {
		fmt.Fprintf(w, "Warning: now fixing did not converge, pending %v\n", out.Pending)
	}
}
