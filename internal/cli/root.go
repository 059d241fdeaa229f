package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// NewRootCommand builds the counselchat command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "counselchat",
		Short: "Chat client for student and counselor conversations",
		Long: `counselchat talks to a counselchat relay. It derives the room for you
and a peer, shows the history and keeps the conversation live by polling
or over the push socket.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringP("config", "c", "", "config file path (default is $COUNSELCHAT_CONFIG_FILE)")

	root.AddCommand(
		newRoomKeyCommand(),
		newConversationsCommand(),
		newHistoryCommand(),
		newChatCommand(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func errWriter(cmd *cobra.Command) io.Writer {
	return cmd.ErrOrStderr()
}
