package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/giantswarm/clusterenv"
)

// Descriptors is the json output of up.
type Descriptors struct {
	Coordination string `json:"coordination"`
	Brokers      string `json:"brokers"`
	Workers      string `json:"workers,omitempty"`
}

// NewUpCommand creates the up command.
func NewUpCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up <topology.yaml>",
		Short: "Start a stack and keep it running until interrupted",
		Long: `Start every tier of the topology, print the connection descriptors
and block until SIGINT or SIGTERM, then tear the stack down. In text
format the descriptors are printed as shell export lines.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runUp(ctx, rootOpts, args[0], cmd.OutOrStdout())
		},
	}
	return cmd
}

// runUp starts the stack described at path and closes it once ctx is done.
func runUp(ctx context.Context, opts *RootOptions, path string, out io.Writer) (retErr error) {
	topo, err := clusterenv.LoadTopology(path)
	if err != nil {
		return err
	}
	stack, err := clusterenv.StartStack(ctx, topo)
	if err != nil {
		return fmt.Errorf("start stack: %w", err)
	}
	defer func() {
		if err := stack.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("close stack: %w", err)
		}
	}()

	if err := writeDescriptors(out, opts.Format, stack); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func writeDescriptors(w io.Writer, format string, s *clusterenv.Stack) error {
	if format == "json" {
		d := Descriptors{
			Coordination: s.Coordination.ConnectionProps(),
			Brokers:      s.Brokers.ConnectionProps(),
		}
		if s.Workers != nil {
			d.Workers = s.Workers.ConnectionProps()
		}
		return json.NewEncoder(w).Encode(d)
	}

	var b strings.Builder
	for _, kv := range s.Env() {
		key, value, _ := strings.Cut(kv, "=")
		fmt.Fprintf(&b, "export %s=%q\n", key, value)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
