package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/agentlink/internal/conversation"
	"github.com/ashureev/agentlink/internal/domain"
	"github.com/ashureev/agentlink/internal/execstate"
	"github.com/ashureev/agentlink/internal/question"
	"github.com/ashureev/agentlink/internal/session"
)

func newTailCmd(load loader) *cobra.Command {
	var from int64

	cmd := &cobra.Command{
		Use:   "tail <agent-id>",
		Short: "Print an agent's conversation as it streams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			client, err := dialAgent(cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			sessions := session.NewManager(client, sessionOptions(cfg, logger))
			defer sessions.Close()

			s, _, err := sessions.Attach(args[0], domain.Cursor(from))
			if err != nil {
				return err
			}

			out := &printer{w: cmd.OutOrStdout()}
			changed := make(chan struct{}, 1)
			notify := func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			}
			defer s.Conversation().AddObserver(func(conversation.Change) { notify() })()
			defer s.Tracker().AddObserver(func(execstate.View) { notify() })()
			notify()

			// Re-render every second so the countdown stays current.
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()

			status := ""
			for {
				select {
				case <-cmd.Context().Done():
					out.finish()
					return nil
				case <-ticker.C:
					if line := statusLine(s.Tracker().View(), time.Now()); line != status {
						status = line
						fmt.Fprintln(cmd.ErrOrStderr(), line)
					}
				case <-changed:
					entries, _ := s.Conversation().Since(out.resumeAt())
					out.update(out.resumeAt(), entries)

					if line := statusLine(s.Tracker().View(), time.Now()); line != status {
						status = line
						fmt.Fprintln(cmd.ErrOrStderr(), line)
					}
				}
			}
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "stream position to resume from")
	return cmd
}

// printer writes a growing conversation log to a terminal. Streamed text
// that extends the last entry is written as a suffix.
type printer struct {
	w io.Writer
	// count is the number of entries started so far.
	count int
	// written is how much of the last entry's text has been written.
	written int
}

// resumeAt is the index to read from next. The last entry may still grow.
func (p *printer) resumeAt() int {
	return max(p.count-1, 0)
}

func (p *printer) update(from int, entries []conversation.Entry) {
	for i, e := range entries {
		idx := from + i
		text := formatEntry(e)
		switch {
		case idx < p.count-1:
			continue
		case idx == p.count-1:
			if len(text) > p.written {
				io.WriteString(p.w, text[p.written:])
				p.written = len(text)
			}
		default:
			if p.count > 0 {
				io.WriteString(p.w, "\n")
			}
			io.WriteString(p.w, text)
			p.count = idx + 1
			p.written = len(text)
		}
	}
}

func (p *printer) finish() {
	if p.count > 0 {
		io.WriteString(p.w, "\n")
	}
}

func formatEntry(e conversation.Entry) string {
	switch e.Type {
	case domain.EventQuestionRequest:
		label := ""
		if e.Question != nil {
			label = e.Question.Label
		}
		return fmt.Sprintf("[question %s] %s", e.RequestID, label)
	case domain.EventQuestionResponse:
		return fmt.Sprintf("[answer %s] %s", e.RequestID, string(e.Result))
	case domain.EventOutputArtifact:
		if e.Artifact != nil {
			return fmt.Sprintf("[artifact] %s %s", e.Artifact.Name, e.Artifact.URI)
		}
	case domain.EventReset:
		return "[reset] " + strings.Join(e.What, ", ")
	case domain.EventAbort:
		return "[abort] " + e.Reason
	case domain.EventInputHandled:
		return "[" + string(e.Type) + "] " + string(e.Status)
	}
	return "[" + string(e.Type) + "] " + e.Message
}

func statusLine(v execstate.View, now time.Time) string {
	switch {
	case !v.Received:
		return "waiting for execution state"
	case v.WaitingOn != nil:
		line := fmt.Sprintf("waiting on question %s (%d pending", v.WaitingOn.RequestID, v.Pending)
		if cd := question.NewCountdown(*v.WaitingOn, func() time.Time { return now }); cd.Enabled() {
			line += fmt.Sprintf(", auto-submit in %ds", cd.Remaining())
		}
		return line + ")"
	case v.BusyWith != nil:
		line := "busy: " + *v.BusyWith
		if v.StatusLine != nil {
			line += " (" + *v.StatusLine + ")"
		}
		return line
	case v.Idle:
		return "idle"
	}
	if v.StatusLine != nil {
		return *v.StatusLine
	}
	return "running"
}

