package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// execRoot runs the command tree with the given args and returns combined
// stdout/stderr output.
func execRoot(t *testing.T, deps CommandDependencies, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(deps)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommandMountsSubcommands(t *testing.T) {
	root := NewRootCommand(CommandDependencies{})

	names := make([]string, 0)
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}

	assert.Contains(t, names, "research")
	assert.Contains(t, names, "migrate")
	assert.Contains(t, names, "version")
}

func TestGetCLIContextRequiresInitialization(t *testing.T) {
	cmd := &cobra.Command{Use: "bare"}

	_, err := GetCLIContext(cmd)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))
}

func TestPersistentPreRunStoresContext(t *testing.T) {
	root := NewRootCommand(CommandDependencies{})
	root.SetArgs([]string{"version", "-o", "json", "--timeout", "30s"})
	var out bytes.Buffer
	root.SetOut(&out)

	require.NoError(t, root.Execute())

	// The subcommand saw the initialized context through its parent.
	sub, _, err := root.Find([]string{"version"})
	require.NoError(t, err)
	cliCtx, err := GetCLIContext(sub)
	require.NoError(t, err)
	assert.Equal(t, "json", cliCtx.OutputFormat)
	assert.NotNil(t, cliCtx.Config)
	assert.NotNil(t, cliCtx.Logger)
}

func TestFormatTableAlignsColumns(t *testing.T) {
	out := FormatTable(
		[]string{"ACQUIRER", "SCORE"},
		[][]string{
			{"AlphaBio", "93.5"},
			{"BP", "88.0"},
		},
	)

	assert.Contains(t, out, "ACQUIRER  SCORE")
	assert.Contains(t, out, "--------  -----")
	assert.Contains(t, out, "AlphaBio  93.5")
	assert.Contains(t, out, "BP        88.0")
}

func TestFormatTableEmptyHeaders(t *testing.T) {
	assert.Empty(t, FormatTable(nil, [][]string{{"a"}}))
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab   ", padRight("ab", 5))
	assert.Equal(t, "abcdef", padRight("abcdef", 4))
}

func TestPrintErrorWritesToStderr(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	var errOut bytes.Buffer
	cmd.SetErr(&errOut)

	PrintError(cmd, errors.New(errors.ErrCodeValidation, "bad input"))

	assert.Contains(t, errOut.String(), "Error:")
	assert.Contains(t, errOut.String(), "bad input")
}

func TestPrintSuccess(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	var out bytes.Buffer
	cmd.SetOut(&out)

	PrintSuccess(cmd, "migrations applied")

	assert.Equal(t, "OK: migrations applied\n", out.String())
}
