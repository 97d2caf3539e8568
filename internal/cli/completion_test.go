package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freshRootCmd creates a bare root command so completion generation is
// not polluted by globally registered subcommands.
func freshRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "moat",
		Short: "moat - deploy and provision a multi-host security stack",
	}
}

func TestCompletionBashGeneration(t *testing.T) {
	var buf bytes.Buffer
	err := freshRootCmd().GenBashCompletion(&buf)

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "# bash completion for moat")
	assert.Contains(t, output, "complete -o default -F __start_moat moat")
}

func TestCompletionZshGeneration(t *testing.T) {
	var buf bytes.Buffer
	err := freshRootCmd().GenZshCompletion(&buf)

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "#compdef moat")
}

func TestCompletionFishGeneration(t *testing.T) {
	var buf bytes.Buffer
	err := freshRootCmd().GenFishCompletion(&buf, true)

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "fish completion for moat")
	assert.Contains(t, output, "complete -c moat")
}

func TestCompletionPowershellGeneration(t *testing.T) {
	var buf bytes.Buffer
	err := freshRootCmd().GenPowerShellCompletion(&buf)

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, strings.ToLower(output), "powershell completion")
	assert.Contains(t, output, "Register-ArgumentCompleter")
}
