package main

import (
	"fmt"

	"github.com/cbodonnell/sessionkeeper/pkg/continuity"
	"github.com/cbodonnell/sessionkeeper/pkg/invite"
	"github.com/spf13/cobra"
)

func newDecideCmd(a *app) *cobra.Command {
	var invitationURL string
	var isHost bool

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Print the startup decision for the stored session pointer",
		Long:  "decide runs the startup decision against the local state without contacting the session store. Stale pointers are purged as they would be on a real start.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := a.continuityManager()
			if err != nil {
				return err
			}

			in := continuity.Inputs{IsHost: isHost}
			if invitationURL != "" {
				link, err := invite.Parse(invitationURL)
				if err != nil {
					return err
				}
				in.InvitationSessionID, _ = link.SessionID()
			}

			decision, err := manager.Decide(in)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), decision)
			return err
		},
	}
	cmd.Flags().StringVar(&invitationURL, "invite-url", "", "URL the game was opened with")
	cmd.Flags().BoolVar(&isHost, "host", false, "decide as the host of a session")
	return cmd
}
