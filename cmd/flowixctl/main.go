// Command flowixctl runs operator tasks against the storefront backend: seeding the plan
// catalogue and granting the super admin role.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(newRuntime).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flowixctl:", err)
		os.Exit(1)
	}
}

// runtimeFactory builds the backend dependencies on demand so commands that only read local
// files never touch the cloud.
type runtimeFactory func(ctx context.Context, envFile string) (*runtime, error)

func newRootCommand(factory runtimeFactory) *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "flowixctl",
		Short:         "Operator tooling for the Flowix storefront backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with API_* settings")

	open := func(cmd *cobra.Command) (*runtime, error) {
		return factory(cmd.Context(), envFile)
	}
	root.AddCommand(newPlansCommand(open))
	root.AddCommand(newAdminsCommand(open))
	return root
}
