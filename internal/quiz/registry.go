// internal/quiz/registry.go
package quiz

import (
	"context"
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spektrum-live/spektrum/internal/catalog"
	"github.com/spektrum-live/spektrum/internal/token"
)

// nameRe validates participant names: 2-16 unicode letters, digits, spaces,
// '.', '_' or '-', applied after trimming.
var nameRe = regexp.MustCompile(`^[\p{L}\p{N}\s._-]{2,16}$`)

// joinCodeRe matches the shape of every code freeJoinCodeLocked can issue.
var joinCodeRe = regexp.MustCompile(`^\d{6,16}$`)

const (
	minJoinCodeDigits   = 6
	maxJoinCodeDigits   = 16
	joinCodeTriesPerLen = 8
)

// Registry holds the live lobbies, keyed both by opaque id and by the short
// public join code. It only creates, resolves and closes lobbies; per-lobby
// state is owned by each lobby's loop.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Lobby
	byCode map[string]uuid.UUID

	logger  *logrus.Logger
	mint    *token.Mint
	catalog *catalog.Holder

	idleTTL     time.Duration
	gameOverTTL time.Duration
	now         func() time.Time
}

// NewRegistry builds a registry. idleTTL closes lobbies with no activity;
// gameOverTTL closes finished lobbies the host abandoned.
func NewRegistry(logger *logrus.Logger, mint *token.Mint, holder *catalog.Holder, idleTTL, gameOverTTL time.Duration) *Registry {
	return &Registry{
		byID:        make(map[uuid.UUID]*Lobby),
		byCode:      make(map[string]uuid.UUID),
		logger:      logger,
		mint:        mint,
		catalog:     holder,
		idleTTL:     idleTTL,
		gameOverTTL: gameOverTTL,
		now:         time.Now,
	}
}

// CreateResult is what lobby creation hands back to the host.
type CreateResult struct {
	LobbyID       uuid.UUID `json:"lobby_id"`
	JoinCode      string    `json:"join_code"`
	HostToken     string    `json:"host_token"`
	ParticipantID uuid.UUID `json:"participant_id"`
}

// Create spins up a lobby with its host participant and issues the host
// token. The lobby captures the current catalog snapshot for its lifetime.
func (r *Registry) Create(hostName string, settings Settings) (CreateResult, error) {
	hostName = strings.TrimSpace(hostName)
	if !nameRe.MatchString(hostName) {
		return CreateResult{}, E(CodeInvalidName, "names are 2-16 letters, digits, spaces, '.', '_' or '-'")
	}
	snap := r.catalog.Get()
	if settings.SetID != "" {
		if _, err := listedSet(snap, settings.SetID); err != nil {
			return CreateResult{}, err
		}
	}

	id := uuid.New()

	r.mu.Lock()
	code, err := r.freeJoinCodeLocked()
	if err != nil {
		r.mu.Unlock()
		return CreateResult{}, err
	}
	l := newLobby(id, code, snap, settings, r.logger, r.onLobbyClosed)
	r.byID[id] = l
	r.byCode[code] = id
	r.mu.Unlock()

	go l.run()

	hostID, err := l.Join(hostName, true)
	if err != nil {
		l.Close("host admission failed")
		return CreateResult{}, err
	}
	tok, err := r.mint.Issue(id, hostID, token.RoleHost)
	if err != nil {
		l.Close("token issuance failed")
		return CreateResult{}, E(CodeInternal, "could not issue host token")
	}
	r.logger.WithFields(logrus.Fields{"lobby": id, "join_code": code, "host": hostName}).Info("lobby created")
	return CreateResult{LobbyID: id, JoinCode: code, HostToken: tok, ParticipantID: hostID}, nil
}

// JoinResult is what a successful player join hands back.
type JoinResult struct {
	SessionToken  string    `json:"session_token"`
	ParticipantID uuid.UUID `json:"participant_id"`
	JoinCode      string    `json:"join_code"`
}

// Join admits a player into the lobby behind a join code. Name syntax is
// checked here; uniqueness and phase are checked inside the lobby loop so
// concurrent joins cannot race.
func (r *Registry) Join(code, name string) (JoinResult, error) {
	name = strings.TrimSpace(name)
	if !nameRe.MatchString(name) {
		return JoinResult{}, E(CodeInvalidName, "names are 2-16 letters, digits, spaces, '.', '_' or '-'")
	}
	code = strings.TrimSpace(code)
	if !joinCodeRe.MatchString(code) {
		return JoinResult{}, E(CodeInvalidJoinCode, "join codes are 6-16 digits")
	}
	l, ok := r.ResolveByJoinCode(code)
	if !ok {
		return JoinResult{}, E(CodeLobbyNotFound, "no lobby with join code %q", code)
	}
	pid, err := l.Join(name, false)
	if err != nil {
		return JoinResult{}, err
	}
	tok, err := r.mint.Issue(l.ID, pid, token.RolePlayer)
	if err != nil {
		return JoinResult{}, E(CodeInternal, "could not issue session token")
	}
	return JoinResult{SessionToken: tok, ParticipantID: pid, JoinCode: l.JoinCode}, nil
}

// IssueViewerToken mints a read-only overlay token for an existing lobby.
func (r *Registry) IssueViewerToken(lobbyID uuid.UUID) (string, error) {
	if _, ok := r.Get(lobbyID); !ok {
		return "", E(CodeLobbyNotFound, "lobby %s not found", lobbyID)
	}
	return r.mint.Issue(lobbyID, uuid.New(), token.RoleViewer)
}

// Get resolves a lobby by id.
func (r *Registry) Get(id uuid.UUID) (*Lobby, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byID[id]
	return l, ok
}

// ResolveByJoinCode resolves a lobby by its public join code.
func (r *Registry) ResolveByJoinCode(code string) (*Lobby, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[code]
	if !ok {
		return nil, false
	}
	l, ok := r.byID[id]
	return l, ok
}

// Count reports the number of live lobbies.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// onLobbyClosed unindexes a lobby and revokes every token bound to it.
// Invoked from the lobby loop (via goroutine) after the close is applied.
func (r *Registry) onLobbyClosed(l *Lobby) {
	r.mu.Lock()
	delete(r.byID, l.ID)
	delete(r.byCode, l.JoinCode)
	r.mu.Unlock()
	r.mint.RevokeLobby(l.ID)
}

// GCSweep closes idle lobbies and finished lobbies past retention, and
// sweeps expired tokens. Returns how many lobbies were closed.
func (r *Registry) GCSweep(now time.Time) int {
	r.mu.RLock()
	candidates := make([]*Lobby, 0, len(r.byID))
	for _, l := range r.byID {
		candidates = append(candidates, l)
	}
	r.mu.RUnlock()

	closed := 0
	for _, l := range candidates {
		phase, lastActivity, gameOverAt := l.Info()
		switch {
		case now.Sub(lastActivity) > r.idleTTL:
			l.Close("idle timeout")
			closed++
		case phase == PhaseGameOver && !gameOverAt.IsZero() && now.Sub(gameOverAt) > r.gameOverTTL:
			l.Close("game over retention expired")
			closed++
		}
	}
	r.mint.Sweep(now)
	return closed
}

// Run periodically sweeps until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.GCSweep(r.now()); n > 0 {
				r.logger.WithField("closed", n).Info("gc sweep closed idle lobbies")
			}
		}
	}
}

// freeJoinCodeLocked generates a numeric join code not colliding with any
// live lobby. Starts at 6 digits and widens after repeated collisions.
func (r *Registry) freeJoinCodeLocked() (string, error) {
	for digits := minJoinCodeDigits; digits <= maxJoinCodeDigits; digits++ {
		for try := 0; try < joinCodeTriesPerLen; try++ {
			code, err := randomDigits(digits)
			if err != nil {
				return "", E(CodeInternal, "join code generation failed")
			}
			if _, taken := r.byCode[code]; !taken {
				return code, nil
			}
		}
	}
	return "", E(CodeInternal, "join code space exhausted")
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

func listedSet(snap *catalog.Snapshot, setID string) (catalog.SetInfo, error) {
	for _, info := range snap.ListSets() {
		if info.ID == setID {
			return info, nil
		}
	}
	return catalog.SetInfo{}, E(CodeQuestionNotFound, "question set %q not found", setID)
}
