// Package directory keeps the signed-in user's conversation list current and
// starts new conversations.
package directory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"signbridge/pkg/protocol"
	"signbridge/pkg/signbridge"
)

// Backend is the subset of the API the directory calls.
type Backend interface {
	ListConversations(ctx context.Context) ([]signbridge.Conversation, error)
	StartConversation(ctx context.Context, other uint) (*signbridge.Conversation, bool, error)
	CreateGroup(ctx context.Context, name string, members []uint) (*signbridge.Conversation, error)
	AddParticipant(ctx context.Context, convID, userID uint) (*signbridge.Participant, error)
}

// Feed delivers change events.
type Feed interface {
	Subscribe(ctx context.Context, table string, filter protocol.Filter, fn signbridge.ChangeHandler) (func(), error)
}

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(message string)
}

// Directory is the list of conversations the user participates in, most
// recent activity first.
type Directory struct {
	self     uint
	api      Backend
	feed     Feed
	notifier Notifier
	log      *slog.Logger
	onChange func()

	mu     sync.Mutex
	list   []signbridge.Conversation
	seq    uint64
	unsubs []func()
}

// Option customizes a Directory.
type Option func(*Directory)

// WithNotifier reports failures to n.
func WithNotifier(n Notifier) Option { return func(d *Directory) { d.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Directory) { d.log = l } }

// WithOnChange runs fn after every list replacement.
func WithOnChange(fn func()) Option { return func(d *Directory) { d.onChange = fn } }

// New returns an empty directory for user self.
func New(self uint, api Backend, feed Feed, opts ...Option) *Directory {
	d := &Directory{self: self, api: api, feed: feed, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open loads the list and refetches it on every conversation or membership
// event the server routes to this user.
func (d *Directory) Open(ctx context.Context) error {
	refetch := func(protocol.ChangeEvent) { go d.refetch(context.Background()) }
	for _, table := range []string{protocol.TableConversations, protocol.TableParticipants} {
		stop, err := d.feed.Subscribe(ctx, table, protocol.Filter{}, refetch)
		if err != nil {
			d.Close()
			return err
		}
		d.mu.Lock()
		d.unsubs = append(d.unsubs, stop)
		d.mu.Unlock()
	}
	return d.Refresh(ctx)
}

// Close releases the subscriptions.
func (d *Directory) Close() {
	d.mu.Lock()
	unsubs := d.unsubs
	d.unsubs = nil
	d.mu.Unlock()
	for _, stop := range unsubs {
		stop()
	}
}

// Refresh replaces the list with the backend's.
func (d *Directory) Refresh(ctx context.Context) error {
	if err := d.refetch(ctx); err != nil {
		d.fail(err)
		return err
	}
	return nil
}

func (d *Directory) refetch(ctx context.Context) error {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	list, err := d.api.ListConversations(ctx)
	if err != nil {
		d.log.Debug("conversation refetch failed", slog.String("error", err.Error()))
		return err
	}
	slices.SortStableFunc(list, func(a, b signbridge.Conversation) int {
		return activity(b).Compare(activity(a))
	})

	d.mu.Lock()
	if seq != d.seq {
		d.mu.Unlock()
		return nil
	}
	d.list = list
	d.mu.Unlock()
	if d.onChange != nil {
		d.onChange()
	}
	return nil
}

// List returns a copy of the current list.
func (d *Directory) List() []signbridge.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.list)
}

// Start returns the two-party conversation with other, reusing the one
// already listed for the pair and creating it otherwise.
func (d *Directory) Start(ctx context.Context, other uint) (*signbridge.Conversation, bool, error) {
	d.mu.Lock()
	for _, c := range d.list {
		if !c.IsGroup && c.OtherParticipant != nil && c.OtherParticipant.ID == other {
			d.mu.Unlock()
			return &c, false, nil
		}
	}
	d.mu.Unlock()

	conv, created, err := d.api.StartConversation(ctx, other)
	if err != nil {
		d.fail(err)
		return nil, false, err
	}
	if created {
		d.upsert(*conv)
	}
	return conv, created, nil
}

// CreateGroup creates a named group with the user as owner.
func (d *Directory) CreateGroup(ctx context.Context, name string, members []uint) (*signbridge.Conversation, error) {
	conv, err := d.api.CreateGroup(ctx, name, members)
	if err != nil {
		d.fail(err)
		return nil, err
	}
	d.upsert(*conv)
	return conv, nil
}

// AddParticipant adds userID to a group conversation.
func (d *Directory) AddParticipant(ctx context.Context, convID, userID uint) error {
	if _, err := d.api.AddParticipant(ctx, convID, userID); err != nil {
		d.fail(err)
		return err
	}
	return nil
}

// upsert puts a conversation the user just created at the head of the list
// until the next refetch.
func (d *Directory) upsert(c signbridge.Conversation) {
	d.mu.Lock()
	d.list = slices.DeleteFunc(d.list, func(x signbridge.Conversation) bool { return x.ID == c.ID })
	d.list = slices.Insert(d.list, 0, c)
	d.mu.Unlock()
	if d.onChange != nil {
		d.onChange()
	}
}

func (d *Directory) fail(err error) {
	if d.notifier != nil {
		d.notifier.Notify(err.Error())
	}
}

func activity(c signbridge.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}
