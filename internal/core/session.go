// Package core holds the room-scoped runtime pieces: the fan-out bus, the
// presence tracker, the timer phase machine and the session abstractions
// binding a participant to its transports.
package core

import "github.com/dkeye/studyroom/internal/domain"

type SessionID string

// Frame is a raw payload delivered over the signaling transport.
type Frame []byte

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a user and their transport endpoints.
// This is what the registry stores and the bus pump writes to.
type MemberSession interface {
	User() *domain.User
	Signal() SignalConnection
	Media() MediaConnection
	UpdateSignal(SignalConnection) MemberSession
	UpdateMedia(MediaConnection) MemberSession
}

type memberSession struct {
	user   *domain.User
	signal SignalConnection
	media  MediaConnection
}

func NewMemberSession(user *domain.User) MemberSession {
	return &memberSession{user: user}
}

func (m *memberSession) User() *domain.User       { return m.user }
func (m *memberSession) Signal() SignalConnection { return m.signal }
func (m *memberSession) Media() MediaConnection   { return m.media }

func (m *memberSession) UpdateSignal(conn SignalConnection) MemberSession {
	m.signal = conn
	return m
}

func (m *memberSession) UpdateMedia(conn MediaConnection) MemberSession {
	m.media = conn
	return m
}
