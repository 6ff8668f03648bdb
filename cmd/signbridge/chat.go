package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"signbridge/pkg/chatsync"
	"signbridge/pkg/presence"
	"signbridge/pkg/signbridge"
)

const chatHelp = `Type a message and press enter to send it. Commands:
  /reply <id>          reply to a message
  /edit <id>           edit one of your messages (the next line replaces it)
  /cancel              cancel reply or edit
  /delete <id>         delete one of your messages
  /pin <id>            pin or unpin a message
  /react <id> <emoji>  add or remove a reaction
  /pinned              show pinned messages
  /history             reprint the conversation
  /quit                leave`

func (a *app) chat(ctx context.Context, args []string) error {
	convID, err := parseID(args, "conversation id")
	if err != nil {
		return err
	}
	conv, err := a.client.GetConversation(ctx, convID)
	if err != nil {
		return err
	}

	rt, err := a.client.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}
	defer func() { _ = rt.Close() }()

	onSync, synced := syncSignal()
	tracker := presence.New(a.session.UserID, a.session.Name(), rt, presence.WithLogger(a.log), onSync)
	if err := tracker.Join(ctx); err != nil {
		a.log.Debug("presence join failed", "error", err)
	} else if !conv.IsGroup && conv.OtherParticipant != nil {
		waitSync(ctx, synced)
	}

	view := &chatView{out: a.out, self: a.session.UserID, shown: map[uint]string{}}
	engine := chatsync.New(chatsync.Config{
		ConversationID: convID,
		UserID:         a.session.UserID,
		API:            a.client,
		Feed:           rt,
		Notifier:       chatsync.NotifierFunc(view.notify),
		Logger:         a.log,
		OnChange:       view.refresh,
	})
	view.engine = engine

	if err := engine.Open(ctx); err != nil {
		return err
	}
	defer engine.Close()
	if err := engine.Load(ctx); err != nil {
		return err
	}

	header := conv.Title()
	if !conv.IsGroup && conv.OtherParticipant != nil && tracker.IsOnline(conv.OtherParticipant.ID) {
		header += " (online)"
	}
	_, _ = fmt.Fprintf(a.out, "── %s ──\n%s\n\n", header, chatHelp)
	view.reprint()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := a.in.ReadString('\n')
			if line != "" {
				lines <- strings.TrimRight(line, "\r\n")
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rt.Done():
			return fmt.Errorf("realtime connection lost: %w", rt.Err())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.handleChatLine(ctx, engine, view, line); quit {
				return nil
			}
		}
	}
}

func (a *app) handleChatLine(ctx context.Context, engine *chatsync.Engine, view *chatView, line string) (quit bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		engine.Keystroke(ctx, line)
		_ = engine.Send(ctx)
		return false
	}

	fields := strings.Fields(trimmed)
	id := func() (uint, bool) {
		if len(fields) < 2 {
			view.notify("missing message id")
			return 0, false
		}
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			view.notify("invalid message id " + fields[1])
			return 0, false
		}
		return uint(n), true
	}

	switch fields[0] {
	case "/quit", "/q":
		return true
	case "/reply":
		if n, ok := id(); ok && !engine.ReplyTo(n) {
			view.notify("no such message")
		}
	case "/edit":
		if n, ok := id(); ok {
			if engine.BeginEdit(n) {
				view.notify("editing: " + engine.Draft())
			} else {
				view.notify("you can only edit your own messages")
			}
		}
	case "/cancel":
		engine.CancelEdit()
		engine.CancelReply()
	case "/delete":
		if n, ok := id(); ok {
			_ = engine.Delete(ctx, n)
		}
	case "/pin":
		if n, ok := id(); ok {
			_ = engine.TogglePin(ctx, n)
		}
	case "/react":
		if n, ok := id(); ok {
			if len(fields) < 3 {
				view.notify("missing emoji")
				break
			}
			_ = engine.ToggleReaction(ctx, n, fields[2])
		}
	case "/pinned":
		pinned := engine.Pinned()
		if len(pinned) == 0 {
			view.notify("nothing pinned")
		}
		for _, m := range pinned {
			view.notify(fmt.Sprintf("📌 #%d %s", m.ID, m.Content))
		}
	case "/history":
		view.reprint()
	default:
		view.notify(chatHelp)
	}
	return false
}

// chatView prints the engine's state incrementally: new or changed messages
// and changes to who is typing.
type chatView struct {
	out    io.Writer
	self   uint
	engine *chatsync.Engine

	mu     sync.Mutex
	shown  map[uint]string
	typing string
}

func (v *chatView) notify(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, _ = fmt.Fprintf(v.out, "  ! %s\n", msg)
}

func (v *chatView) reprint() {
	v.mu.Lock()
	v.shown = map[uint]string{}
	v.mu.Unlock()
	v.refresh()
}

// refresh prints messages whose rendering changed since they were last shown.
func (v *chatView) refresh() {
	if v.engine == nil {
		return
	}
	msgs := v.engine.Messages()
	typing := strings.Join(v.engine.Typing(), ", ")

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range msgs {
		line := v.render(m)
		if v.shown[m.ID] == line {
			continue
		}
		v.shown[m.ID] = line
		_, _ = fmt.Fprintln(v.out, line)
	}
	if typing != v.typing {
		v.typing = typing
		if typing != "" {
			_, _ = fmt.Fprintf(v.out, "  … %s typing\n", typing)
		}
	}
}

func (v *chatView) render(m signbridge.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d ", m.ID)
	if m.IsPinned {
		b.WriteString("📌 ")
	}
	who := "them"
	if m.SenderID == v.self {
		who = "you"
	}
	fmt.Fprintf(&b, "[%s %s] ", who, m.CreatedAt.Local().Format("15:04"))
	if parent, ok := v.engine.Parent(m); ok {
		fmt.Fprintf(&b, "↪ #%d %q ", parent.ID, truncate(parent.Content, 24))
	}
	b.WriteString(m.Content)
	if m.EditedAt != nil {
		b.WriteString(" (edited)")
	}
	if m.Translation != nil && *m.Translation != "" {
		fmt.Fprintf(&b, " [%s]", *m.Translation)
	}
	for _, g := range chatsync.GroupReactions(m.Reactions, v.self) {
		fmt.Fprintf(&b, "  %s %d", g.Emoji, g.Count)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
