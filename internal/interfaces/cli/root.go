// Package cli implements the rxmi command tree: run a research request
// from a file, manage the audit schema, print build information.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appresearch "github.com/turtacn/RxMarket-Intelligence/internal/application/research"
	"github.com/turtacn/RxMarket-Intelligence/internal/config"
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
}

// ServiceFactory builds the research service from loaded configuration.
// The returned cleanup releases every connection the build opened; it runs
// after the command finishes whether or not the run succeeded.
type ServiceFactory func(ctx context.Context, cfg *config.Config, log logging.Logger) (appresearch.Service, func(), error)

// CommandDependencies aggregates what the subcommands need from main.
type CommandDependencies struct {
	NewService ServiceFactory
}

// NewRootCommand creates the root cobra command with global flags and all
// subcommands mounted.
func NewRootCommand(deps CommandDependencies) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "rxmi",
		Short:   "RxMarket-Intelligence CLI — quality-gated pharma deal research",
		Long:    "RxMarket-Intelligence researches pharmaceutical commercial activity\nthrough a quality-assured, retry-orchestrated engine: generated research\nis scored across eight categories, deal records are deep-validated, and\nonly results clearing the quality gate are accepted.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./rxmi.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "global operation timeout")

	cmd.AddCommand(
		NewResearchCmd(deps.NewService),
		NewMigrateCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// persistentPreRun initializes config and logger, then stores CLIContext on
// the command's context for subcommands.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := initConfig(opts)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger, err := initLogger(opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: opts.OutputFormat,
		Verbose:      opts.Verbose,
		NoColor:      opts.NoColor,
		Timeout:      opts.Timeout,
	}

	ctx := context.WithValue(cmd.Context(), cliContextKey{}, cliCtx)
	cmd.SetContext(ctx)

	return nil
}

// initConfig loads configuration with priority: explicit flag > search
// paths > environment only.
func initConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}

	searchPaths := []string{"./rxmi.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".rxmi", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/rxmi/config.yaml")

	for _, p := range searchPaths {
		if _, statErr := os.Stat(p); statErr == nil {
			return config.Load(p)
		}
	}

	// No config file anywhere; RXMI_* environment variables and defaults
	// still apply.
	return config.LoadFromEnv()
}

// initLogger creates a logger configured for CLI usage: human-readable
// console output on stderr so stdout stays parseable.
func initLogger(opts *RootOptions) (logging.Logger, error) {
	level := strings.ToLower(opts.LogLevel)
	if opts.Verbose {
		level = "debug"
	}

	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeInternal, "command context is nil")
	}

	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.New(errors.ErrCodeInternal, "CLI context not initialized")
	}

	return cliCtx, nil
}

// Execute runs the command tree and reports failures on stderr.
func Execute(deps CommandDependencies) error {
	rootCmd := NewRootCommand(deps)

	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// PrintResult outputs data in the format selected by the global flag.
func PrintResult(cmd *cobra.Command, data any) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return printJSON(cmd, data)
	}

	switch strings.ToLower(cliCtx.OutputFormat) {
	case "json":
		return printJSON(cmd, data)
	default:
		return printText(cmd, data)
	}
}

// printJSON outputs data as indented JSON to stdout.
func printJSON(cmd *cobra.Command, data any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// printText outputs data as a simple string representation to stdout.
func printText(cmd *cobra.Command, data any) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprintln(cmd.OutOrStdout(), v.String())
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// PrintSuccess writes a formatted success message to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", msg)
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if len(row[i]) > colWidths[i] {
				colWidths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder

	for i, h := range headers {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(padRight(h, colWidths[i]))
	}
	sb.WriteString("\n")

	for i, w := range colWidths {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(strings.Repeat("-", w))
	}
	sb.WriteString("\n")

	for _, row := range rows {
		for i := 0; i < len(headers); i++ {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(row) {
				val = row[i]
			}
			sb.WriteString(padRight(val, colWidths[i]))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// padRight pads s with spaces to the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
