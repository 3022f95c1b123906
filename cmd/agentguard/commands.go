package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const envConfig = "AGENTGUARD_CONFIG"

type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "agentguard",
		Short:         "Guarded tool-calling runtime for travel planning agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(envConfig),
		"Path to the YAML config (env "+envConfig+")")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil,
		"Dotenv files to load before the config (default: .env.local, .env)")

	root.AddCommand(
		newServeCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and publish configuration",
	}

	var scope string
	resolve := &cobra.Command{
		Use:   "resolve <agent-type>",
		Short: "Print the validated config an agent kind would run with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigResolve(cmd.Context(), cmd.OutOrStdout(), opts, args[0], scope)
		},
	}
	resolve.Flags().StringVar(&scope, "scope", "", "Scope to resolve (default: resolver.scope)")

	var putScope string
	put := &cobra.Command{
		Use:   "put <agent-type> <file>",
		Short: "Validate and publish a new config version from a YAML or JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigPut(cmd.Context(), cmd.OutOrStdout(), opts, args[0], args[1], putScope)
		},
	}
	put.Flags().StringVar(&putScope, "scope", "", "Scope to publish to (default: the file's scope, then resolver.scope)")

	check := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the service config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigCheck(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.AddCommand(resolve, put, check)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentguard %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
