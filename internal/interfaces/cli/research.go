package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	appresearch "github.com/turtacn/RxMarket-Intelligence/internal/application/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
	"github.com/turtacn/RxMarket-Intelligence/pkg/types/common"
)

// researchOptions holds the research command's flags. File contents load
// first; explicit flags override individual fields afterwards.
type researchOptions struct {
	File       string
	Target     string
	Indication string
	Phase      string
	FullDepth  bool
	Academic   bool
}

// NewResearchCmd creates the research command: load a research context from
// a JSON file or flags, run it through the engine, print the result.
func NewResearchCmd(newService ServiceFactory) *cobra.Command {
	opts := &researchOptions{}

	cmd := &cobra.Command{
		Use:   "research",
		Short: "Run one research request through the quality-gated engine",
		Long: "Runs a research request end to end: generation, eight-category\n" +
			"quality scoring, deal deep-validation when requested, and bounded\n" +
			"retry with best-of-N retention. The result prints to stdout; logs\n" +
			"go to stderr.",
		Example: "  rxmi research --file request.json\n" +
			"  rxmi research --target \"KRAS G12C inhibitors\" --indication NSCLC --full-depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if newService == nil {
				return errors.New(errors.ErrCodeConfiguration, "research command is not wired to a service factory")
			}

			rc, err := loadResearchContext(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cliCtx.Timeout)
			defer cancel()

			svc, cleanup, err := newService(ctx, cliCtx.Config, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := svc.Execute(ctx, &appresearch.Request{Context: rc})
			if err != nil {
				return err
			}

			if strings.EqualFold(cliCtx.OutputFormat, "json") {
				return printJSON(cmd, res)
			}
			return printRunSummary(cmd, res)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&opts.File, "file", "f", "", "JSON file holding the research context")
	fl.StringVar(&opts.Target, "target", "", "research target, e.g. an asset class or technology")
	fl.StringVar(&opts.Indication, "indication", "", "disease indication of interest")
	fl.StringVar(&opts.Phase, "phase", "", "development phase (preclinical, phase1, phase2, phase3, filed, approved)")
	fl.BoolVar(&opts.FullDepth, "full-depth", false, "deep-validate extracted deal records")
	fl.BoolVar(&opts.Academic, "academic", false, "bias source expectations toward peer-reviewed literature")

	return cmd
}

// loadResearchContext assembles the run's context from the file and flag
// overrides, assigning a correlation ID when the caller provided none.
func loadResearchContext(opts *researchOptions) (research.ResearchContext, error) {
	var rc research.ResearchContext

	if opts.File != "" {
		raw, err := os.ReadFile(opts.File)
		if err != nil {
			return rc, errors.Wrap(err, errors.ErrCodeValidation, "reading request file")
		}
		if err := json.Unmarshal(raw, &rc); err != nil {
			return rc, errors.Wrap(err, errors.ErrCodeSerialization, "decoding request file")
		}
	}

	if opts.Target != "" {
		rc.Target = opts.Target
	}
	if opts.Indication != "" {
		rc.Indication = opts.Indication
	}
	if opts.Phase != "" {
		rc.Phase = research.DevelopmentPhase(strings.ToLower(opts.Phase))
	}
	if opts.FullDepth {
		rc.FullDepth = true
	}
	if opts.Academic {
		rc.AcademicEmphasis = true
	}
	if rc.CorrelationID == "" {
		rc.CorrelationID = common.NewCorrelationID()
	}

	if strings.TrimSpace(rc.Target) == "" {
		return rc, errors.New(errors.ErrCodeResearchContextInvalid, "a research target is required: pass --file or --target")
	}
	if strings.TrimSpace(rc.Indication) == "" {
		return rc, errors.New(errors.ErrCodeResearchContextInvalid, "an indication is required: pass --file or --indication")
	}

	return rc, nil
}

// printRunSummary renders the human-readable result: headline figures, the
// validated deal records, and the per-attempt history.
func printRunSummary(cmd *cobra.Command, res *research.EngineResult) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Outcome:        %s\n", res.Outcome)
	fmt.Fprintf(out, "Correlation ID: %s\n", res.CorrelationID)
	fmt.Fprintf(out, "Overall score:  %.1f\n", res.OverallScore)
	fmt.Fprintf(out, "Confidence:     %.2f\n", res.Assessment.Confidence)
	fmt.Fprintf(out, "Retries:        %d\n", res.RetryCount)
	fmt.Fprintf(out, "Sources:        %d\n", res.SourceCount)
	fmt.Fprintf(out, "Elapsed:        %s\n", res.Elapsed)
	if res.CacheHit {
		fmt.Fprintln(out, "Served from cache.")
	}
	if res.BelowThreshold {
		fmt.Fprintln(out, "WARNING: best-effort result below the quality threshold.")
	}

	if len(res.Deals) > 0 {
		rows := make([][]string, 0, len(res.Deals))
		for _, d := range res.Deals {
			rows = append(rows, []string{
				d.Acquirer,
				d.Asset,
				d.Indication,
				string(d.Stage),
				formatValueUSD(d.ValueUSD),
				fmt.Sprintf("%.1f", d.ValidationScore),
			})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, FormatTable(
			[]string{"ACQUIRER", "ASSET", "INDICATION", "STAGE", "VALUE", "SCORE"},
			rows,
		))
	}

	if len(res.Attempts) > 0 {
		rows := make([][]string, 0, len(res.Attempts))
		for _, a := range res.Attempts {
			rows = append(rows, []string{
				strconv.Itoa(a.Attempt),
				fmt.Sprintf("%.1f", a.OverallScore),
				fmt.Sprintf("%.2f", a.Confidence),
				strconv.Itoa(a.CriticalIssues),
				strconv.FormatBool(a.Accepted),
			})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, FormatTable(
			[]string{"ATTEMPT", "SCORE", "CONFIDENCE", "CRITICAL", "ACCEPTED"},
			rows,
		))
	}

	return nil
}

// formatValueUSD renders a deal value compactly: $1.2B, $850.0M, $75000.
func formatValueUSD(v float64) string {
	switch {
	case v <= 0:
		return "undisclosed"
	case v >= 1e9:
		return fmt.Sprintf("$%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.1fM", v/1e6)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
