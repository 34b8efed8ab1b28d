package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	cmds := command{flags: flags}

	root := createRootCommand(flags)
	root.AddCommand(
		createServeCommand(flags),
		createInitCommand(cmds),
		createStatusCommand(cmds),
		createListCommand(cmds),
		createStartCommand(cmds),
		createStopCommand(cmds),
		createRestartCommand(cmds),
		createReloadCommand(cmds),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "devgate",
		Short: "Hostname router and on-demand process supervisor for local development",
		Long: `Devgate routes HTTP/HTTPS requests by hostname to locally supervised
backend processes, starting them on first access and stopping them after
a period of inactivity.

Examples:
  devgate init                      # Write a starter config
  devgate serve                     # Run the daemon
  devgate status                    # Show the process table
  devgate start app.test            # Start a backend without a request
  devgate stop app.test --force     # Kill a backend immediately`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "devgate.toml", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "admin API base URL (default derived from admin_addr in the config)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "admin API request timeout")
	return root
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the router and supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags.ConfigPath)
		},
	}
}

func createInitCommand(cmds command) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Init()
		},
	}
}

func createStatusCommand(cmds command) *cobra.Command {
	return &cobra.Command{
		Use:   "status [domain]",
		Short: "Show the process table",
		Long: `Show the supervised process table. Talks to the running daemon's admin
API when reachable, otherwise falls back to the last persisted snapshot.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := ""
			if len(args) == 1 {
				domain = args[0]
			}
			return cmds.Status(domain)
		},
	}
}

func createListCommand(cmds command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured projects and mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.List()
		},
	}
}

func createStartCommand(cmds command) *cobra.Command {
	var manual bool
	cmd := &cobra.Command{
		Use:   "start <domain>",
		Short: "Start a backend through the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Start(args[0], manual)
		},
	}
	cmd.Flags().BoolVar(&manual, "manual", false, "exempt the backend from idle eviction")
	return cmd
}

func createStopCommand(cmds command) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop <domain>",
		Short: "Stop a backend through the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Stop(args[0], force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "kill immediately instead of terminating gracefully")
	return cmd
}

func createRestartCommand(cmds command) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <domain>",
		Short: "Restart a backend through the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Restart(args[0])
		},
	}
}

func createReloadCommand(cmds command) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to re-read its config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Reload()
		},
	}
}
