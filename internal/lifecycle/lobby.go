package lifecycle

import (
	"slices"

	"github.com/rotisserie/eris"
)

// Join adds playerID to the scope's lobby and returns the new lobby size.
// Players may queue for the next match while one is still unresolved.
func (r *Registry) Join(name, playerID string) (int, error) {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.lobby, playerID) {
		return len(s.lobby), eris.Wrapf(ErrAlreadyInLobby, "player %s", playerID)
	}
	if r.cfg.MaxPlayers > 0 && len(s.lobby) >= r.cfg.MaxPlayers {
		return len(s.lobby), eris.Wrapf(ErrLobbyFull, "%d players", len(s.lobby))
	}
	s.lobby = append(s.lobby, playerID)
	return len(s.lobby), nil
}

// Leave removes playerID from the lobby and returns the new lobby size.
func (r *Registry) Leave(name, playerID string) (int, error) {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.lobby, playerID)
	if i < 0 {
		return len(s.lobby), eris.Wrapf(ErrNotInLobby, "player %s", playerID)
	}
	s.lobby = slices.Delete(s.lobby, i, i+1)
	return len(s.lobby), nil
}

// Lobby returns the lobby in join order.
func (r *Registry) Lobby(name string) []string {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lobby)
}

// Ready reports whether the lobby reached the ready threshold.
func (r *Registry) Ready(name string) bool {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lobby) >= r.readyThreshold()
}

func (r *Registry) Reset(name string) {
	s := r.scope(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobby = nil
}
