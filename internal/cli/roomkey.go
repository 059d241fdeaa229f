package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"counselchat/pkg/types"
)

func newRoomKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roomkey [user-id] [user-id]",
		Short: "Print the room key two participants share",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := types.RoomKey(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
