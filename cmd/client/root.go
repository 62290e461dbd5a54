package main

import (
	"fmt"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/version"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "sessionkeeper",
		Short:         "Session continuity runtime for browser games",
		Long:          "sessionkeeper keeps players in their game sessions across reloads: it decides on startup whether to rejoin, follow an invitation, ask, or start clean, and relays session state to the game's presentation layer.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd, opts)
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ./sessionkeeper.toml or ~/.sessionkeeper/sessionkeeper.toml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides the config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(a),
		newDecideCmd(a),
		newPointerCmd(a),
		newAttachCmd(a),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Get())
			return err
		},
	}
}

func setLogger(cmd *cobra.Command, level log.LogLevel) {
	logger := log.New(cmd.ErrOrStderr(), "", log.DefaultLoggerFlag, level)
	log.SetDefaultLogger(logger)
}
