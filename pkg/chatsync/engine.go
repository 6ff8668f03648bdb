// Package chatsync keeps one conversation's message list consistent with the
// backend: an initial load, realtime merges, and the mutations a chat surface
// offers (send, edit, delete, pin, react, reply, typing).
package chatsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"signbridge/pkg/protocol"
	"signbridge/pkg/signbridge"
)

// TypingTimeout is how long after the last keystroke the typing row is cleared.
const TypingTimeout = 3 * time.Second

// Backend is the subset of the API the engine calls. *signbridge.Client satisfies it.
type Backend interface {
	ListMessages(ctx context.Context, convID uint, limit int) ([]signbridge.Message, error)
	SendMessage(ctx context.Context, convID uint, in signbridge.SendMessageInput) (*signbridge.Message, error)
	EditMessage(ctx context.Context, id uint, content string) (*signbridge.Message, error)
	DeleteMessage(ctx context.Context, id uint) (*signbridge.Message, error)
	SetPinned(ctx context.Context, id uint, pinned bool) (*signbridge.Message, error)
	ToggleReaction(ctx context.Context, id uint, emoji string) (*signbridge.Message, bool, error)
	MarkRead(ctx context.Context, convID uint) ([]uint, error)
	ListTyping(ctx context.Context, convID uint) ([]signbridge.TypingIndicator, error)
	StartTyping(ctx context.Context, convID uint) error
	StopTyping(ctx context.Context, convID uint) error
}

// Feed delivers change events. *signbridge.Realtime satisfies it.
type Feed interface {
	Subscribe(ctx context.Context, table string, filter protocol.Filter, fn signbridge.ChangeHandler) (func(), error)
}

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(string)

// Notify calls f.
func (f NotifierFunc) Notify(message string) { f(message) }

// Config wires an Engine.
type Config struct {
	ConversationID uint
	UserID         uint
	API            Backend
	Feed           Feed
	Notifier       Notifier
	Logger         *slog.Logger
	// Clock defaults to the wall clock.
	Clock Clock
	// OnChange runs after every state change, outside the engine lock.
	OnChange func()
}

// Engine is the client-side state of one open conversation. All methods are
// safe to call from any goroutine; realtime callbacks and timers serialize
// with user actions on the same lock.
type Engine struct {
	convID   uint
	self     uint
	api      Backend
	feed     Feed
	notifier Notifier
	log      *slog.Logger
	clock    Clock
	onChange func()

	mu          sync.Mutex
	messages    []signbridge.Message
	typing      []string
	typingSeq   uint64
	replyTo     *signbridge.Message
	editingID   uint
	draft       string
	sending     bool
	typingTimer Timer
	typingTail  chan struct{}
	unsubs      []func()

	// loads counts Load calls in flight; live holds the message events
	// applied meanwhile so the fetched snapshot cannot undo them.
	loads int
	live  map[uint]liveEvent
}

type liveEvent struct {
	msg    signbridge.Message
	insert bool
}

// New returns an engine for cfg.ConversationID. Call Open to start realtime
// delivery and Load to fetch history.
func New(cfg Config) *Engine {
	e := &Engine{
		convID:   cfg.ConversationID,
		self:     cfg.UserID,
		api:      cfg.API,
		feed:     cfg.Feed,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
		clock:    cfg.Clock,
		onChange: cfg.OnChange,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With(slog.Uint64("conversation_id", uint64(e.convID)))
	if e.clock == nil {
		e.clock = wallClock{}
	}
	if e.notifier == nil {
		e.notifier = NotifierFunc(func(msg string) { e.log.Warn("chat notification", slog.String("message", msg)) })
	}
	return e
}

// Open subscribes to message and typing changes for the conversation.
func (e *Engine) Open(ctx context.Context) error {
	filter := protocol.Eq("conversation_id", e.convID)

	stopMessages, err := e.feed.Subscribe(ctx, protocol.TableMessages, filter, e.Apply)
	if err != nil {
		return err
	}
	stopTyping, err := e.feed.Subscribe(ctx, protocol.TableTyping, filter, func(protocol.ChangeEvent) {
		go e.refreshTyping(context.Background())
	})
	if err != nil {
		stopMessages()
		return err
	}

	e.mu.Lock()
	e.unsubs = append(e.unsubs, stopMessages, stopTyping)
	e.mu.Unlock()

	go e.refreshTyping(ctx)
	return nil
}

// Close releases the subscriptions and clears a pending typing row. It waits
// up to TypingTimeout for queued typing calls to reach the backend.
func (e *Engine) Close() {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	pending := e.typingTimer != nil && e.typingTimer.Stop()
	e.typingTimer = nil
	if pending {
		e.queueTypingLocked(e.stopTyping(context.Background()))
	}
	tail := e.typingTail
	e.mu.Unlock()

	for _, stop := range unsubs {
		stop()
	}
	if tail != nil {
		select {
		case <-tail:
		case <-time.After(TypingTimeout):
			e.log.Debug("typing calls still in flight at close")
		}
	}
}

// Load replaces the message list with the conversation's non-deleted history
// and marks messages from others as read. Realtime events applied while the
// fetch is in flight are merged over the fetched snapshot.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	if e.loads == 0 {
		e.live = map[uint]liveEvent{}
	}
	e.loads++
	e.mu.Unlock()

	msgs, err := e.api.ListMessages(ctx, e.convID, 0)
	if err != nil {
		e.mu.Lock()
		e.endLoadLocked()
		e.mu.Unlock()
		e.fail(err)
		return err
	}
	active := make([]signbridge.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsDeleted {
			continue
		}
		m.Reactions = normalizeReactions(m.Reactions)
		active = append(active, m)
	}

	e.mu.Lock()
	for id, ev := range e.live {
		idx := slices.IndexFunc(active, func(m signbridge.Message) bool { return m.ID == id })
		switch {
		case ev.msg.IsDeleted:
			if idx >= 0 {
				active = slices.Delete(active, idx, idx+1)
			}
		case idx >= 0:
			active[idx] = ev.msg
		case ev.insert:
			active = append(active, ev.msg)
		}
	}
	slices.SortStableFunc(active, func(a, b signbridge.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	e.messages = active
	e.endLoadLocked()
	e.mu.Unlock()
	e.changed()

	if _, err := e.api.MarkRead(ctx, e.convID); err != nil {
		e.fail(err)
		return err
	}
	return nil
}

func (e *Engine) endLoadLocked() {
	e.loads--
	if e.loads == 0 {
		e.live = nil
	}
}

// Apply merges one realtime message event. Inserts append, updates replace in
// place or remove soft-deleted rows, deletes are ignored.
func (e *Engine) Apply(ev protocol.ChangeEvent) {
	if ev.Table != protocol.TableMessages || ev.Type == protocol.Delete {
		return
	}
	var m signbridge.Message
	if err := json.Unmarshal(ev.Record, &m); err != nil {
		e.log.Warn("undecodable message event", slog.String("error", err.Error()))
		return
	}
	if m.ConversationID != 0 && m.ConversationID != e.convID {
		return
	}
	m.Reactions = normalizeReactions(m.Reactions)

	e.mu.Lock()
	if e.live != nil {
		rec := liveEvent{msg: m, insert: ev.Type == protocol.Insert}
		if prev, ok := e.live[m.ID]; ok && prev.insert {
			rec.insert = true
		}
		e.live[m.ID] = rec
	}
	idx := e.indexLocked(m.ID)
	switch {
	case m.IsDeleted:
		if idx < 0 {
			e.mu.Unlock()
			return
		}
		e.messages = slices.Delete(e.messages, idx, idx+1)
		if e.editingID == m.ID {
			e.editingID = 0
			e.draft = ""
		}
	case idx >= 0:
		e.messages[idx] = m
	case ev.Type == protocol.Insert:
		e.messages = append(e.messages, m)
	default:
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.changed()
}

// SetDraft replaces the composer text without touching the typing row.
func (e *Engine) SetDraft(text string) {
	e.mu.Lock()
	e.draft = text
	e.mu.Unlock()
}

// Keystroke records a composer change: the draft is updated, the typing row is
// upserted, and a timer clears it after TypingTimeout of quiet. Typing calls
// run in the background in issue order.
func (e *Engine) Keystroke(ctx context.Context, text string) {
	e.mu.Lock()
	e.draft = text
	if e.typingTimer != nil {
		e.typingTimer.Stop()
	}
	var timer Timer
	timer = e.clock.AfterFunc(TypingTimeout, func() {
		e.mu.Lock()
		if e.typingTimer == timer {
			e.typingTimer = nil
			e.queueTypingLocked(e.stopTyping(context.Background()))
		}
		e.mu.Unlock()
	})
	e.typingTimer = timer
	e.queueTypingLocked(func() {
		if err := e.api.StartTyping(ctx, e.convID); err != nil {
			e.log.Debug("typing upsert failed", slog.String("error", err.Error()))
		}
	})
	e.mu.Unlock()
}

// Send commits the draft. In edit mode it updates the edited message;
// otherwise it posts a new message replying to the current reply target.
// Blank drafts and calls made while a send is in flight do nothing.
// Failures are reported to the Notifier and leave the draft in place.
func (e *Engine) Send(ctx context.Context) error {
	e.mu.Lock()
	content := strings.TrimSpace(e.draft)
	if e.sending || content == "" {
		e.mu.Unlock()
		return nil
	}
	e.sending = true
	editingID := e.editingID
	var replyTo *uint
	if e.replyTo != nil {
		id := e.replyTo.ID
		replyTo = &id
	}
	e.mu.Unlock()

	var err error
	if editingID != 0 {
		_, err = e.api.EditMessage(ctx, editingID, content)
	} else {
		_, err = e.api.SendMessage(ctx, e.convID, signbridge.SendMessageInput{Content: content, ReplyToID: replyTo})
	}

	e.mu.Lock()
	e.sending = false
	if err != nil {
		e.mu.Unlock()
		e.fail(err)
		return err
	}
	e.draft = ""
	e.replyTo = nil
	if editingID != 0 && e.editingID == editingID {
		e.editingID = 0
	}
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	e.queueTypingLocked(e.stopTyping(context.WithoutCancel(ctx)))
	e.mu.Unlock()

	e.changed()
	return nil
}

// BeginEdit enters edit mode for one of the caller's own messages and copies
// its content into the draft. It reports whether edit mode was entered.
func (e *Engine) BeginEdit(id uint) bool {
	e.mu.Lock()
	idx := e.indexLocked(id)
	if idx < 0 || e.messages[idx].SenderID != e.self {
		e.mu.Unlock()
		return false
	}
	e.editingID = id
	e.draft = e.messages[idx].Content
	e.replyTo = nil
	e.mu.Unlock()
	e.changed()
	return true
}

// CancelEdit leaves edit mode and clears the draft.
func (e *Engine) CancelEdit() {
	e.mu.Lock()
	if e.editingID == 0 {
		e.mu.Unlock()
		return
	}
	e.editingID = 0
	e.draft = ""
	e.mu.Unlock()
	e.changed()
}

// Delete soft-deletes a message. It disappears locally at once and is not
// restored if the request fails.
func (e *Engine) Delete(ctx context.Context, id uint) error {
	e.mu.Lock()
	if idx := e.indexLocked(id); idx >= 0 {
		e.messages = slices.Delete(e.messages, idx, idx+1)
	}
	if e.editingID == id {
		e.editingID = 0
		e.draft = ""
	}
	if e.replyTo != nil && e.replyTo.ID == id {
		e.replyTo = nil
	}
	e.mu.Unlock()
	e.changed()

	if _, err := e.api.DeleteMessage(ctx, id); err != nil {
		e.fail(err)
		return err
	}
	return nil
}

// TogglePin flips the pinned flag. The list changes when the update event arrives.
func (e *Engine) TogglePin(ctx context.Context, id uint) error {
	e.mu.Lock()
	idx := e.indexLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return nil
	}
	pinned := !e.messages[idx].IsPinned
	e.mu.Unlock()

	if _, err := e.api.SetPinned(ctx, id, pinned); err != nil {
		e.fail(err)
		return err
	}
	return nil
}

// ToggleReaction adds or removes the caller's emoji on a message. The list
// changes when the update event arrives.
func (e *Engine) ToggleReaction(ctx context.Context, id uint, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil
	}
	if _, _, err := e.api.ToggleReaction(ctx, id, emoji); err != nil {
		e.fail(err)
		return err
	}
	return nil
}

// ReplyTo makes the message with id the parent of the next send.
func (e *Engine) ReplyTo(id uint) bool {
	e.mu.Lock()
	idx := e.indexLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return false
	}
	m := e.messages[idx]
	e.replyTo = &m
	e.mu.Unlock()
	e.changed()
	return true
}

// CancelReply clears the reply target.
func (e *Engine) CancelReply() {
	e.mu.Lock()
	e.replyTo = nil
	e.mu.Unlock()
	e.changed()
}

// Messages returns a copy of the active message list, oldest first.
func (e *Engine) Messages() []signbridge.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.messages)
}

// Pinned returns the pinned subset of the active list.
func (e *Engine) Pinned() []signbridge.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []signbridge.Message
	for _, m := range e.messages {
		if m.IsPinned {
			out = append(out, m)
		}
	}
	return out
}

// Parent resolves a message's reply target from the local list only.
func (e *Engine) Parent(m signbridge.Message) (signbridge.Message, bool) {
	if m.ReplyToID == nil {
		return signbridge.Message{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx := e.indexLocked(*m.ReplyToID); idx >= 0 {
		return e.messages[idx], true
	}
	return signbridge.Message{}, false
}

// Typing returns the display names of other participants currently typing.
func (e *Engine) Typing() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.typing)
}

// Draft returns the composer text.
func (e *Engine) Draft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Editing returns the id of the message being edited.
func (e *Engine) Editing() (uint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editingID, e.editingID != 0
}

// Replying returns the current reply target.
func (e *Engine) Replying() (signbridge.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.replyTo == nil {
		return signbridge.Message{}, false
	}
	return *e.replyTo, true
}

func (e *Engine) refreshTyping(ctx context.Context) {
	e.mu.Lock()
	e.typingSeq++
	seq := e.typingSeq
	e.mu.Unlock()

	rows, err := e.api.ListTyping(ctx, e.convID)
	if err != nil {
		e.log.Debug("typing refetch failed", slog.String("error", err.Error()))
		return
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.UserID == e.self {
			continue
		}
		name := row.Profile.Label()
		if name == "" {
			name = "Someone"
		}
		names = append(names, name)
	}

	e.mu.Lock()
	if seq != e.typingSeq {
		e.mu.Unlock()
		return
	}
	e.typing = names
	e.mu.Unlock()
	e.changed()
}

func (e *Engine) stopTyping(ctx context.Context) func() {
	return func() {
		if err := e.api.StopTyping(ctx, e.convID); err != nil {
			e.log.Debug("typing clear failed", slog.String("error", err.Error()))
		}
	}
}

// queueTypingLocked runs op once every earlier typing call has returned, so
// upserts and clears reach the backend in the order they were issued.
func (e *Engine) queueTypingLocked(op func()) {
	prev := e.typingTail
	done := make(chan struct{})
	e.typingTail = done
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		op()
	}()
}

func (e *Engine) indexLocked(id uint) int {
	return slices.IndexFunc(e.messages, func(m signbridge.Message) bool { return m.ID == id })
}

func (e *Engine) fail(err error) {
	e.notifier.Notify(err.Error())
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}
