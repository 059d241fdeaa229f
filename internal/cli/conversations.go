package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newConversationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List your conversations with unread counts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newClientEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			convs, err := env.api.ListConversations(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(convs) == 0 {
				fmt.Fprintln(out, "no conversations yet")
				return nil
			}
			self := env.cfg.Client.UserID
			for _, c := range convs {
				peers := make([]string, 0, 1)
				for _, id := range c.ParticipantIDs {
					if id != self {
						peers = append(peers, id)
					}
				}
				fmt.Fprintf(out, "%-24s with %-12s %3d unread  active %s\n",
					c.RoomKey, strings.Join(peers, ","), c.Unread, humanize.Time(c.UpdatedAt))
			}
			return nil
		},
	}
}
