// Command signbridge is a terminal client for the SignBridge API.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"signbridge/pkg/session"
	"signbridge/pkg/signbridge"
)

const defaultAPI = "http://localhost:8375"

const usage = `Usage: signbridge [-api URL] [-session FILE] <command> [args]

Commands:
  signup                      Create an account and sign in
  login                       Sign in
  logout                      Sign out and forget the stored session
  conversations               List your conversations
  people                      List other users
  start <user-id>             Open (or create) a conversation with a user
  group <name> <user-id>...   Create a group conversation
  chat <conversation-id>      Enter a conversation
  prefs [flags]               Show or change accessibility preferences
  profile [flags]             Show or change your profile

The API address defaults to $SIGNBRIDGE_API, then ` + defaultAPI + `.
`

// app is the state shared by every command.
type app struct {
	client  *signbridge.Client
	manager *session.Manager
	session *session.Session
	in      *bufio.Reader
	out     io.Writer
	log     *slog.Logger
}

func main() {
	global := flag.NewFlagSet("signbridge", flag.ExitOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	apiURL := global.String("api", envOr("SIGNBRIDGE_API", defaultAPI), "API base URL")
	sessionPath := global.String("session", "", "Session file (default: user config dir)")
	verbose := global.Bool("v", false, "Log realtime diagnostics to stderr")
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	path := *sessionPath
	if path == "" {
		var err error
		if path, err = session.DefaultPath(); err != nil {
			fatal(err)
		}
	}

	client := signbridge.New(*apiURL, signbridge.WithLogger(logger))
	a := &app{
		client:  client,
		manager: session.NewManager(client, session.FileStore{Path: path}),
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		log:     logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, args[0], args[1:]); err != nil {
		stop()
		fatal(err)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "signup":
		return a.signIn(ctx, args, true)
	case "login":
		return a.signIn(ctx, args, false)
	case "logout":
		return a.logout(ctx)
	}

	target, ok := surfaces[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
	if err := a.restore(ctx); err != nil {
		return err
	}
	if session.Route(a.session, target, timeNow()) == session.Auth {
		return errors.New("you are not signed in; run `signbridge login` first")
	}

	switch cmd {
	case "conversations":
		return a.conversations(ctx)
	case "people":
		return a.people(ctx)
	case "start":
		return a.start(ctx, args)
	case "group":
		return a.group(ctx, args)
	case "chat":
		return a.chat(ctx, args)
	case "prefs":
		return a.prefs(ctx, args)
	default:
		return a.profile(ctx, args)
	}
}

// surfaces maps the session-protected commands to the screen they show.
var surfaces = map[string]session.Surface{
	"conversations": session.Conversations,
	"people":        session.Home,
	"start":         session.Conversations,
	"group":         session.Conversations,
	"chat":          session.Chat,
	"prefs":         session.Settings,
	"profile":       session.Profile,
}

func (a *app) restore(ctx context.Context) error {
	s, err := a.manager.Restore(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	a.session = s
	return nil
}

func (a *app) signIn(ctx context.Context, args []string, create bool) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Account password (prompted when empty)")
	_ = fs.Parse(args)

	if *email == "" {
		*email = a.prompt("Email: ")
	}
	if *password == "" {
		*password = a.prompt("Password: ")
	}

	var (
		s   *session.Session
		err error
	)
	if create {
		s, err = a.manager.SignUp(ctx, *email, *password)
	} else {
		s, err = a.manager.SignIn(ctx, *email, *password)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.out, "Signed in as %s.\n", s.Name())
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.restore(ctx); err != nil {
		return err
	}
	if a.session == nil {
		_, _ = fmt.Fprintln(a.out, "Not signed in.")
		return nil
	}
	if err := a.manager.SignOut(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.out, "Signed out.")
	return nil
}

func (a *app) prompt(label string) string {
	_, _ = fmt.Fprint(a.out, label)
	line, _ := a.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func parseID(args []string, what string) (uint, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("missing %s", what)
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", what, args[0])
	}
	return uint(id), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	_, _ = fmt.Fprintln(os.Stderr, "signbridge:", err)
	os.Exit(1)
}
