package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"counselchat/internal/chatsync"
)

func newHistoryCommand() *cobra.Command {
	var markRead bool
	cmd := &cobra.Command{
		Use:   "history [peer-id]",
		Short: "Print the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newClientEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			principal, err := env.session.Principal()
			if err != nil {
				return err
			}
			identity, err := chatsync.NewIdentity(principal, args[0])
			if err != nil {
				return err
			}

			conv, err := env.api.FetchConversation(cmd.Context(), identity.RoomKey)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(conv.Messages) == 0 {
				fmt.Fprintf(out, "no messages in %s\n", identity.RoomKey)
			}
			newRenderer(out, identity.UserID).render(conv.Messages)

			if markRead {
				n, err := env.api.MarkRead(cmd.Context(), identity.RoomKey, identity.UserID)
				if err != nil {
					return err
				}
				if n > 0 {
					fmt.Fprintf(errWriter(cmd), "marked %d message(s) read\n", n)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark the peer's messages as read")
	return cmd
}
