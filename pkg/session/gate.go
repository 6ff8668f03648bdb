package session

import "time"

// Surface is a top-level screen of the client.
type Surface string

const (
	Landing       Surface = "landing"
	Auth          Surface = "auth"
	Home          Surface = "home"
	Settings      Surface = "settings"
	Profile       Surface = "profile"
	Conversations Surface = "conversations"
	Chat          Surface = "chat"
)

// Protected reports whether entering s requires a session.
func (s Surface) Protected() bool {
	switch s {
	case Home, Settings, Profile, Conversations, Chat:
		return true
	}
	return false
}

// Route returns the surface a visitor asking for target ends up on.
// Visitors without a valid session are sent from protected surfaces to Auth;
// signed-in visitors are sent from Landing and Auth to Home.
func Route(s *Session, target Surface, now time.Time) Surface {
	authed := s.Valid(now)
	switch {
	case target.Protected() && !authed:
		return Auth
	case (target == Landing || target == Auth) && authed:
		return Home
	}
	return target
}
