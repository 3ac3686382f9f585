// Command imbi-automations runs workflows against projects tracked in Imbi.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"imbi-automations/pkg/logx"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath   string
	verbose      bool
	debugDomains []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Interrupted, exiting")
			return 130
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "imbi-automations",
		Short:         "Run automation workflows across Imbi projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logx.SetVerbose(flags.verbose)
			if len(flags.debugDomains) > 0 {
				logx.SetDebugDomains(flags.debugDomains)
			}
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.toml", "configuration file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringSliceVar(&flags.debugDomains, "debug-domains", nil, "limit debug logging to these components")

	root.AddCommand(
		newRunCmd(flags),
		newResumeCmd(flags),
		newRerunFollowupCmd(flags),
		newHistoryCmd(flags),
		newVersionCmd(),
	)
	return root
}
