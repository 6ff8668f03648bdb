package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"signbridge/pkg/directory"
	"signbridge/pkg/presence"
	"signbridge/pkg/settings"
	"signbridge/pkg/signbridge"

	"github.com/dustin/go-humanize"
)

var timeNow = time.Now

// presenceWait bounds how long list commands wait for the first presence sync.
const presenceWait = 750 * time.Millisecond

func (a *app) conversations(ctx context.Context) error {
	dir := directory.New(a.session.UserID, a.client, nil)
	if err := dir.Refresh(ctx); err != nil {
		return err
	}
	list := dir.List()
	if len(list) == 0 {
		_, _ = fmt.Fprintln(a.out, "No conversations yet. Try `signbridge people` and `signbridge start <user-id>`.")
		return nil
	}
	online := a.onlineSnapshot(ctx)

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCONVERSATION\tLAST ACTIVITY")
	for _, c := range list {
		title := c.Title()
		if !c.IsGroup && c.OtherParticipant != nil && online.IsOnline(c.OtherParticipant.ID) {
			title += " ●"
		}
		last := "never"
		if c.LastMessageAt != nil {
			last = humanize.RelTime(*c.LastMessageAt, timeNow(), "ago", "from now")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, title, last)
	}
	return w.Flush()
}

func (a *app) people(ctx context.Context) error {
	profiles, err := settings.NewProfiles(a.client).Others(ctx)
	if err != nil {
		return err
	}
	online := a.onlineSnapshot(ctx)

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tEMAIL\tSTATUS")
	for _, p := range profiles {
		status := "offline"
		if online.IsOnline(p.ID) {
			status = "online"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Label(), p.Email, status)
	}
	return w.Flush()
}

// onlineSnapshot joins presence briefly to learn who is online. It degrades
// to an empty set when realtime is unavailable.
func (a *app) onlineSnapshot(ctx context.Context) *presence.Tracker {
	onSync, synced := syncSignal()

	rt, err := a.client.Connect(ctx)
	if err != nil {
		a.log.Debug("presence unavailable", "error", err)
		return presence.New(a.session.UserID, a.session.Name(), nil)
	}
	defer func() { _ = rt.Close() }()

	tracker := presence.New(a.session.UserID, a.session.Name(), rt, presence.WithLogger(a.log), onSync)
	if err := tracker.Join(ctx); err != nil {
		a.log.Debug("presence join failed", "error", err)
		return tracker
	}
	waitSync(ctx, synced)
	return tracker
}

// syncSignal returns a tracker option that signals every presence sync.
func syncSignal() (presence.Option, <-chan struct{}) {
	synced := make(chan struct{}, 1)
	return presence.WithOnChange(func() {
		select {
		case synced <- struct{}{}:
		default:
		}
	}), synced
}

// waitSync blocks until the first sync, presenceWait, or ctx ends.
func waitSync(ctx context.Context, synced <-chan struct{}) {
	select {
	case <-synced:
	case <-time.After(presenceWait):
	case <-ctx.Done():
	}
}

func (a *app) start(ctx context.Context, args []string) error {
	other, err := parseID(args, "user id")
	if err != nil {
		return err
	}
	dir := directory.New(a.session.UserID, a.client, nil)
	if err := dir.Refresh(ctx); err != nil {
		return err
	}
	conv, created, err := dir.Start(ctx, other)
	if err != nil {
		return err
	}
	verb := "Opened"
	if created {
		verb = "Started"
	}
	_, _ = fmt.Fprintf(a.out, "%s conversation %d with %s. Enter it with `signbridge chat %d`.\n", verb, conv.ID, conv.Title(), conv.ID)
	return nil
}

func (a *app) group(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: signbridge group <name> <user-id>...")
	}
	members := make([]uint, 0, len(args)-1)
	for _, raw := range args[1:] {
		id, err := parseID([]string{raw}, "user id")
		if err != nil {
			return err
		}
		members = append(members, id)
	}
	conv, err := directory.New(a.session.UserID, a.client, nil).CreateGroup(ctx, args[0], members)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.out, "Created group %q (%d).\n", conv.Title(), conv.ID)
	return nil
}

func (a *app) prefs(ctx context.Context, args []string) error {
	prefs := settings.NewPreferences(a.client)
	current, err := prefs.Load(ctx)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("prefs", flag.ExitOnError)
	mode := fs.String("mode", string(current.Mode), "normal or deaf")
	language := fs.String("language", current.Language, "Interface language")
	signLanguage := fs.String("sign-language", current.SignLanguage, "Sign language, e.g. ASL or BSL")
	highContrast := fs.Bool("high-contrast", current.HighContrast, "High contrast")
	largeText := fs.Bool("large-text", current.LargeText, "Large text")
	visualAlerts := fs.Bool("visual-alerts", current.VisualAlerts, "Visual alerts")
	_ = fs.Parse(args)

	if fs.NFlag() > 0 {
		next := current
		next.Mode = signbridge.Mode(*mode)
		next.Language = *language
		next.SignLanguage = *signLanguage
		next.HighContrast = *highContrast
		next.LargeText = *largeText
		next.VisualAlerts = *visualAlerts
		if current, err = prefs.Save(ctx, next); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(a.out, "Preferences saved.")
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "mode\t%s\n", current.Mode)
	_, _ = fmt.Fprintf(w, "language\t%s\n", current.Language)
	_, _ = fmt.Fprintf(w, "sign language\t%s\n", current.SignLanguage)
	_, _ = fmt.Fprintf(w, "high contrast\t%s\n", onOff(current.HighContrast))
	_, _ = fmt.Fprintf(w, "large text\t%s\n", onOff(current.LargeText))
	_, _ = fmt.Fprintf(w, "visual alerts\t%s\n", onOff(current.VisualAlerts))
	return w.Flush()
}

func (a *app) profile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	name := fs.String("name", "", "New display name")
	avatar := fs.String("avatar", "", "Image file to upload as avatar")
	_ = fs.Parse(args)

	profiles := settings.NewProfiles(a.client)
	mine, err := profiles.Load(ctx)
	if err != nil {
		return err
	}
	if *name != "" {
		if mine, err = profiles.SaveDisplayName(ctx, *name); err != nil {
			return err
		}
	}
	if *avatar != "" {
		f, err := os.Open(*avatar)
		if err != nil {
			return err
		}
		mine, err = profiles.UploadAvatar(ctx, *avatar, f)
		_ = f.Close()
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "id\t%s\n", strconv.FormatUint(uint64(mine.ID), 10))
	_, _ = fmt.Fprintf(w, "display name\t%s\n", mine.DisplayName)
	_, _ = fmt.Fprintf(w, "email\t%s\n", mine.Email)
	if mine.AvatarURL != "" {
		_, _ = fmt.Fprintf(w, "avatar\t%s\n", mine.AvatarURL)
	}
	_, _ = fmt.Fprintf(w, "member since\t%s\n", humanize.Time(mine.CreatedAt))
	return w.Flush()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
