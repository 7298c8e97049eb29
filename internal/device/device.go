package device

import "sync/atomic"

// State holds the connectivity and foreground flags reported by the host app.
type State struct {
	offline    atomic.Bool
	background atomic.Bool
}

// NewState starts online and in the foreground.
func NewState() *State {
	return &State{}
}

func (s *State) SetOnline(online bool) { s.offline.Store(!online) }

func (s *State) SetForeground(foreground bool) { s.background.Store(!foreground) }

func (s *State) Online() bool { return !s.offline.Load() }

func (s *State) Foreground() bool { return !s.background.Load() }

// CanSync reports whether new submission attempts may start.
func (s *State) CanSync() bool { return s.Online() && s.Foreground() }
