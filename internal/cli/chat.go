package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"counselchat/internal/chatsync"
	"counselchat/internal/config"
	"counselchat/internal/push"
	"counselchat/pkg/types"
)

// ErrSessionEnded is returned when the relay rejects the token mid-chat.
var ErrSessionEnded = errors.New("session ended; sign in again")

func newChatCommand() *cobra.Command {
	var syncMode string
	cmd := &cobra.Command{
		Use:   "chat [peer-id]",
		Short: "Open a live conversation with a peer",
		Long: `Open a live conversation. Type a line and press enter to send it.
Commands: /switch <peer-id> opens another conversation, /quit leaves.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newClientEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()
			if syncMode != "" {
				env.cfg.Client.SyncMode = syncMode
			}
			return runChat(cmd, env, args[0])
		},
	}
	cmd.Flags().StringVar(&syncMode, "sync", "", "background sync mode: poll or push (default from config)")
	return cmd
}

func backgroundSync(ctx context.Context, env *clientEnv) (chatsync.BackgroundSync, func(), error) {
	switch env.cfg.Client.SyncMode {
	case config.SyncModePush:
		pc, err := push.Dial(ctx, env.session, push.Options{
			URL:    env.cfg.Client.PushURL(),
			Logger: env.logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return chatsync.NewPushSync(pc, env.logger, env.metrics), func() { _ = pc.Close() }, nil
	case config.SyncModePoll:
		return chatsync.NewPollingSync(env.api, env.cfg.Client.PollInterval, env.logger, env.metrics), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown sync mode %q", env.cfg.Client.SyncMode)
	}
}

func runChat(cmd *cobra.Command, env *clientEnv, peerID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	env.session.OnLogout(cancel)

	policy, err := chatsync.ParseRollbackPolicy(env.cfg.Client.Rollback)
	if err != nil {
		return err
	}
	bg, closeSync, err := backgroundSync(ctx, env)
	if err != nil {
		return err
	}
	defer closeSync()

	out := cmd.OutOrStdout()
	errOut := errWriter(cmd)
	r := newRenderer(out, env.cfg.Client.UserID)

	view, err := chatsync.NewView(chatsync.ViewConfig{
		Session: env.session,
		Remote:  env.api,
		Sync:    bg,
		Policy:  policy,
		Notifier: chatsync.NotifierFunc(func(err error) {
			fmt.Fprintf(errOut, "! message not sent: %v\n", err)
		}),
		OnChange: r.render,
		Metrics:  env.metrics,
		Logger:   env.logger,
	})
	if err != nil {
		return err
	}
	defer view.Close()

	open := func(peer string) error {
		r.reset()
		if err := view.Open(ctx, peer); err != nil {
			return err
		}
		fmt.Fprintf(out, "-- %s (%s) --\n", view.RoomKey(), view.PeerID())
		r.render(view.Messages())
		return nil
	}
	if err := open(peerID); err != nil {
		return sessionErr(env, err)
	}
	if interactive(cmd.InOrStdin()) {
		fmt.Fprintln(errOut, "type a message and press enter; /switch <peer-id> or /quit")
	}

	lines, readErr := readLines(ctx, cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			return sessionErr(env, nil)
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if errors.Is(err, bufio.ErrTooLong) {
						return fmt.Errorf("read input: line longer than %d bytes: %w", 4*types.MaxTextBytes, err)
					}
					return fmt.Errorf("read input: %w", err)
				default:
					return nil
				}
			}
			switch {
			case line == "/quit":
				return nil
			case strings.HasPrefix(line, "/switch "):
				peer := strings.TrimSpace(strings.TrimPrefix(line, "/switch "))
				if err := open(peer); err != nil {
					if !env.session.Active() {
						return ErrSessionEnded
					}
					fmt.Fprintf(errOut, "! cannot open %s: %v\n", peer, err)
				}
			default:
				send(ctx, env, view, line, errOut)
			}
		}
	}
}

// send reports no-op outcomes inline; backend failures already reached the
// notifier.
func send(ctx context.Context, env *clientEnv, view *chatsync.View, line string, errOut io.Writer) {
	_, err := view.Send(ctx, line)
	switch {
	case err == nil, errors.Is(err, chatsync.ErrEmptyText):
	case errors.Is(err, chatsync.ErrTextTooLarge):
		fmt.Fprintf(errOut, "! message longer than %d bytes\n", types.MaxTextBytes)
	case errors.Is(err, chatsync.ErrSendInFlight):
		fmt.Fprintln(errOut, "! still sending the previous message")
	default:
		env.logger.Debug("send failed", zap.Error(err))
	}
}

func sessionErr(env *clientEnv, err error) error {
	if !env.session.Active() {
		return ErrSessionEnded
	}
	return err
}

// interactive reports whether in is a terminal rather than a pipe or file.
func interactive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readLines feeds input lines to the chat loop until EOF or ctx is done.
// A read failure is delivered on the error channel before lines is closed.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 4096), 4*types.MaxTextBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()
	return lines, errs
}
