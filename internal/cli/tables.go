package cli

import (
	"bytes"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/flowguard/internal/transition"
)

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "Print the transition tables and forbidden lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var buf bytes.Buffer
			transition.Describe(&buf)
			return rootOpts.formatter(cmd).Success(map[string]string{"tables": buf.String()}, func(w io.Writer) {
				w.Write(buf.Bytes())
			})
		},
	}
}
