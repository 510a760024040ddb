package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/leapstack-labs/leapquery/pkg/dialect"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// NewVersionCommand creates the version command.
func NewVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display LeapQuery version, build information and the compiled-in adapters.`,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "LeapQuery v%s\n", info.Version)
			_, _ = fmt.Fprintf(out, "commit %s, built %s, %s\n", info.GitCommit, info.BuildDate, runtime.Version())
			_, _ = fmt.Fprintf(out, "adapters: %s\n", strings.Join(adapter.ListAdapters(), ", "))
			_, _ = fmt.Fprintf(out, "dialects: %s\n", strings.Join(dialect.List(), ", "))
		},
	}
}
