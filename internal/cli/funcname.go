package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

// FuncNameMapping pairs a function name with its converted spelling.
type FuncNameMapping struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func NewFuncNameCommand(rootOpts *RootOptions) *cobra.Command {
	var direction string
	cmd := &cobra.Command{
		Use:   "funcname <name>...",
		Short: "Convert function names between local and remote spelling",
		Long: `Convert lambda function names between the local lowerCamelCase
spelling and the backend's snake_case spelling.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuncName(rootOpts, cmd, direction, args)
		},
	}
	cmd.Flags().StringVar(&direction, "to", "remote", "target spelling (remote|local)")
	return cmd
}

func runFuncName(opts *RootOptions, cmd *cobra.Command, direction string, names []string) error {
	formatter := newFormatter(opts, cmd)

	var convert func(string) string
	switch direction {
	case "remote":
		convert = serialization.RemoteFunctionName
	case "local":
		convert = serialization.LocalFunctionName
	default:
		return formatter.Fail(ExitCommandError, ErrCodeArgument, fmt.Sprintf("invalid direction %q: must be remote or local", direction), nil, nil)
	}

	mappings := make([]FuncNameMapping, len(names))
	for i, name := range names {
		mappings[i] = FuncNameMapping{From: name, To: convert(name)}
	}
	return formatter.Success(mappings, func(w io.Writer) {
		for _, m := range mappings {
			fmt.Fprintf(w, "%s -> %s\n", m.From, m.To)
		}
	})
}
