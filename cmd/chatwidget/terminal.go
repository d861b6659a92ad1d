package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"chatwidget/internal/domain"
	"chatwidget/internal/flow"
	"chatwidget/internal/widget"
)

// terminal renders the widget in a scrolling terminal session. It is
// the stand-in for the embedded UI: all state lives in the engine, the
// terminal only displays view snapshots and publishes visitor actions.
type terminal struct {
	in  io.Reader
	out io.Writer

	mu        sync.Mutex
	lastState flow.State
	printed   map[string]bool
	typing    bool
	offline   bool
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{
		in:        in,
		out:       out,
		lastState: flow.StateIdle,
		printed:   map[string]bool{},
	}
}

// render is the engine's OnChange callback.
func (t *terminal) render(v widget.View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v.State != t.lastState {
		t.lastState = v.State
		t.banner(v)
	}

	for _, msg := range v.Messages {
		if t.printed[msg.ID] {
			continue
		}
		t.printed[msg.ID] = true
		who := "You"
		if msg.Direction == domain.DirectionInbound {
			who = "Agent"
			if v.Agent != nil {
				who = v.Agent.Name
			}
		}
		fmt.Fprintf(t.out, "%s> %s\n", who, msg.Text)
	}

	if v.Typing != t.typing {
		t.typing = v.Typing
		if v.Typing {
			fmt.Fprintln(t.out, "... agent is typing")
		}
	}

	if v.OfflineFallback && !t.offline {
		fmt.Fprintln(t.out, "No agent has picked up yet. Leave a message with '/offline <text>' or keep waiting.")
	}
	t.offline = v.OfflineFallback
}

func (t *terminal) banner(v widget.View) {
	switch v.State {
	case flow.StatePreChatForm:
		fmt.Fprintln(t.out, "Before we start, introduce yourself:")
		fmt.Fprintln(t.out, "  name; email; your message")
	case flow.StateActiveChat:
		fmt.Fprintln(t.out, "You are connected. Type to chat, '/finish' to end.")
	case flow.StatePostChatSurvey:
		fmt.Fprintln(t.out, "The chat was closed. How did we do?")
		fmt.Fprintln(t.out, "  '/rate 5 [feedback]' if happy, '/rate 1 [feedback]' if not, '/skip' to skip")
	case flow.StateIdle:
		fmt.Fprintln(t.out, "Chat closed. Press Enter to start a new one, '/quit' to leave.")
	}
}

func (t *terminal) notice(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, "!", msg)
}

// run reads visitor input until EOF, /quit, or context cancellation.
func (t *terminal) run(ctx context.Context, engine *widget.Engine) error {
	if text := engine.EyeCatcher(ctx); text != "" {
		fmt.Fprintln(t.out, text)
	}
	for _, link := range engine.ContactLinks() {
		fmt.Fprintf(t.out, "  %s: %s\n", link.Type, link.URL)
	}
	if !engine.LiveChatEnabled() {
		fmt.Fprintln(t.out, "Live chat is not offered on this widget; use a contact link above.")
		return nil
	}
	if !engine.Online(ctx) {
		fmt.Fprintln(t.out, "We are currently offline; replies may take a while.")
	}
	fmt.Fprintln(t.out, "Press Enter to open the chat. '/quit' exits.")

	scanner := bufio.NewScanner(t.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "/") {
			if quit := t.command(engine, line); quit {
				return nil
			}
			continue
		}

		switch engine.State() {
		case flow.StateIdle:
			engine.Open()
			if line != "" {
				engine.Send(line)
			}
		case flow.StatePreChatForm:
			if line == "" {
				continue
			}
			name, email, message := splitPreChat(line)
			engine.SubmitPreChat(name, email, message)
		case flow.StateActiveChat:
			if line != "" {
				engine.Send(line)
			}
		case flow.StatePostChatSurvey:
			fmt.Fprintln(t.out, "Use '/rate 1|5 [feedback]' or '/skip' first.")
		}
	}
}

// command handles slash commands; returns true when the session should
// end.
func (t *terminal) command(engine *widget.Engine, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true
	case "/finish":
		engine.Finish()
	case "/new":
		engine.StartNewChat()
	case "/skip":
		engine.SkipSurvey()
	case "/rate":
		if len(fields) < 2 {
			fmt.Fprintln(t.out, "usage: /rate 1|5 [feedback]")
			return false
		}
		rating, err := strconv.Atoi(fields[1])
		if err != nil || (rating != 1 && rating != 5) {
			fmt.Fprintln(t.out, "rating must be 1 (unhappy) or 5 (happy)")
			return false
		}
		engine.SubmitSurvey(rating, strings.Join(fields[2:], " "))
	case "/offline":
		if len(fields) < 2 {
			fmt.Fprintln(t.out, "usage: /offline <message>")
			return false
		}
		engine.SubmitOffline("", "", strings.Join(fields[1:], " "))
	case "/help":
		fmt.Fprintln(t.out, "commands: /finish /new /rate /skip /offline /quit")
	default:
		fmt.Fprintf(t.out, "unknown command %s ('/help' lists them)\n", fields[0])
	}
	return false
}

// splitPreChat parses "name; email; message". Fewer segments shift
// right: a single segment is just the message, two are name and
// message.
func splitPreChat(line string) (name, email, message string) {
	parts := strings.SplitN(line, ";", 3)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 1:
		return "", "", parts[0]
	case 2:
		return parts[0], "", parts[1]
	default:
		return parts[0], parts[1], parts[2]
	}
}
