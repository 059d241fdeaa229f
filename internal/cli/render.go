package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"

	"counselchat/pkg/types"
)

// renderer prints each confirmed message once. Pending messages are not
// echoed because the author's line is already on screen.
type renderer struct {
	mu     sync.Mutex
	out    io.Writer
	selfID string
	seen   map[string]struct{}
}

func newRenderer(out io.Writer, selfID string) *renderer {
	return &renderer{out: out, selfID: selfID, seen: make(map[string]struct{})}
}

func (r *renderer) render(msgs []types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if m.Pending() {
			continue
		}
		if _, ok := r.seen[m.ID]; ok {
			continue
		}
		r.seen[m.ID] = struct{}{}
		fmt.Fprintln(r.out, formatMessage(m, r.selfID))
	}
}

// reset forgets what was printed, for a room switch.
func (r *renderer) reset() {
	r.mu.Lock()
	r.seen = make(map[string]struct{})
	r.mu.Unlock()
}

func formatMessage(m types.Message, selfID string) string {
	who := m.SenderID
	if m.SenderID == selfID {
		who = "you"
	}
	return fmt.Sprintf("[%s] %s (%s): %s", humanize.Time(m.CreatedAt), who, m.Sender, m.Text)
}
