package cli

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/giantswarm/clusterenv"
)

// ValidationResult is the json output of validate.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "validate <topology.yaml>",
		Short:         "Check a topology file without starting anything",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd.OutOrStdout())
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, out io.Writer) error {
	_, loadErr := clusterenv.LoadTopology(path)

	if opts.Format == "json" {
		res := ValidationResult{Valid: loadErr == nil}
		if loadErr != nil {
			res.Error = loadErr.Error()
		}
		if err := json.NewEncoder(out).Encode(res); err != nil {
			return err
		}
		return loadErr
	}

	if loadErr != nil {
		return loadErr
	}
	_, err := fmt.Fprintf(out, "%s: ok\n", path)
	return err
}
