package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPointerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pointer",
		Short: "Inspect or clear the stored session pointer",
	}
	cmd.AddCommand(newPointerShowCmd(a), newPointerClearCmd(a))
	return cmd
}

func newPointerShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored session pointer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := a.continuityManager()
			if err != nil {
				return err
			}
			pointer, ok, err := manager.Pointer()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				_, err := fmt.Fprintln(out, "no session pointer")
				return err
			}
			sessionID, _ := pointer.SessionID()
			fmt.Fprintf(out, "session: %s\n", sessionID)
			fmt.Fprintf(out, "host: %t\n", pointer.IsHost)
			_, err = fmt.Fprintf(out, "age: %s\n", pointer.Age(time.Now()).Round(time.Second))
			return err
		},
	}
}

func newPointerClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the stored session pointer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := a.continuityManager()
			if err != nil {
				return err
			}
			if err := manager.Clear(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "session pointer cleared")
			return err
		},
	}
}
