package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool         `json:"valid"`
	Objects  int          `json:"objects,omitempty"`
	Mappings int          `json:"mappings,omitempty"`
	Errors   []*LoadError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <show>",
		Short: "Validate a show file",
		Long: `Validate the mappings and timeline of a show file without resolving it.

CUE files are checked against the built-in show schema first. All
problems are reported, not just the first.

Examples:
  tsr validate ./show.cue
  tsr validate ./show.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	show, err := LoadShow(path)
	if err != nil {
		var errs LoadErrors
		if !errors.As(err, &errs) || len(errs) == 0 {
			errs = LoadErrors{{Code: ErrCodeGeneric, Message: err.Error()}}
		}
		return outputValidationErrors(formatter, errs)
	}

	count := countObjects(show.Timeline)
	formatter.VerboseLog("Loaded %d object(s) and %d mapping(s) from %s", count, len(show.Mappings), path)

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Objects: count, Mappings: len(show.Mappings)})
	}
	fmt.Fprintf(formatter.Writer, "✓ Show valid (%d objects, %d mappings)\n", count, len(show.Mappings))
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, errs LoadErrors) error {
	exit := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	// A missing or unreadable file is a command error, not a validation failure.
	if len(errs) == 1 && (errs[0].Code == ErrCodeNotFound || errs[0].Code == ErrCodeUnsupported) {
		exit = NewExitError(ExitCommandError, errs[0].Error())
	}

	if formatter.JSON() {
		if err := formatter.Failure(errs[0].Code, errs[0].Message, ValidationResult{Valid: false, Errors: errs}); err != nil {
			return err
		}
		return exit
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Pos != "" {
			fmt.Fprintln(formatter.Writer, e.Pos)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return exit
}

// countObjects counts objects including group children.
func countObjects(objects []timeline.Object) int {
	n := 0
	timeline.Walk(objects, func(_, _ *timeline.Object, _ int) { n++ })
	return n
}
