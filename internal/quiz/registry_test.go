// internal/quiz/registry_test.go
package quiz

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektrum-live/spektrum/internal/catalog"
	"github.com/spektrum-live/spektrum/internal/token"
)

func newTestRegistry(t *testing.T) (*Registry, *token.Mint) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mint := token.NewMint(time.Hour)
	holder := catalog.NewHolder(testSnapshot(t))
	r := NewRegistry(logger, mint, holder, 2*time.Hour, 10*time.Minute)
	t.Cleanup(func() {
		r.mu.RLock()
		lobbies := make([]*Lobby, 0, len(r.byID))
		for _, l := range r.byID {
			lobbies = append(lobbies, l)
		}
		r.mu.RUnlock()
		for _, l := range lobbies {
			l.Close("test finished")
		}
	})
	return r, mint
}

func TestCreate(t *testing.T) {
	r, mint := newTestRegistry(t)

	res, err := r.Create("Quizmaster", Settings{SetID: "one"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.LobbyID)
	assert.Regexp(t, `^\d{6,16}$`, res.JoinCode)

	l, ok := r.ResolveByJoinCode(res.JoinCode)
	require.True(t, ok)
	assert.Equal(t, res.LobbyID, l.ID)

	b, err := mint.Resolve(res.HostToken)
	require.NoError(t, err)
	assert.Equal(t, token.RoleHost, b.Role)
	assert.Equal(t, res.LobbyID, b.LobbyID)
	assert.Equal(t, res.ParticipantID, b.ParticipantID)
}

func TestCreateValidation(t *testing.T) {
	r, _ := newTestRegistry(t)

	for _, name := range []string{"", "A", strings.Repeat("x", 17), "bad!name", "<script>"} {
		_, err := r.Create(name, Settings{})
		requireCode(t, err, CodeInvalidName)
	}

	// 2 and 16 characters are the inclusive boundaries; surrounding
	// whitespace is trimmed before validation.
	for _, name := range []string{"Ab", strings.Repeat("x", 16), "  Ann  ", "Göran", "DJ Röyksopp"} {
		_, err := r.Create(name, Settings{})
		require.NoError(t, err, "name %q should be accepted", name)
	}

	_, err := r.Create("Quizmaster", Settings{SetID: "missing"})
	requireCode(t, err, CodeQuestionNotFound)
}

func TestJoin(t *testing.T) {
	r, mint := newTestRegistry(t)
	res, err := r.Create("Quizmaster", Settings{SetID: "one"})
	require.NoError(t, err)

	jr, err := r.Join(res.JoinCode, "Alice")
	require.NoError(t, err)
	assert.Equal(t, res.JoinCode, jr.JoinCode)

	b, err := mint.Resolve(jr.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, token.RolePlayer, b.Role)
	assert.Equal(t, jr.ParticipantID, b.ParticipantID)

	_, err = r.Join(res.JoinCode, "Alice")
	requireCode(t, err, CodeNameTaken)

	_, err = r.Join("999999999", "Bob")
	requireCode(t, err, CodeLobbyNotFound)

	for _, code := range []string{"", "12345", "12ab34", strings.Repeat("7", 17)} {
		_, err = r.Join(code, "Bob")
		requireCode(t, err, CodeInvalidJoinCode)
	}

	_, err = r.Join(res.JoinCode, "!")
	requireCode(t, err, CodeInvalidName)

	l, ok := r.Get(res.LobbyID)
	require.True(t, ok)
	require.NoError(t, l.StartGame(res.ParticipantID))

	_, err = r.Join(res.JoinCode, "Late Larry")
	requireCode(t, err, CodeLobbyNotJoinable)
}

func TestJoinCodesAreUnique(t *testing.T) {
	r, _ := newTestRegistry(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		res, err := r.Create("Quizmaster", Settings{})
		require.NoError(t, err)
		assert.False(t, seen[res.JoinCode], "join code %q issued twice", res.JoinCode)
		seen[res.JoinCode] = true
	}
}

func TestFreeJoinCodeAvoidsCollisions(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode["123456"] = uuid.New()

	for i := 0; i < 50; i++ {
		code, err := r.freeJoinCodeLocked()
		require.NoError(t, err)
		_, taken := r.byCode[code]
		assert.False(t, taken)
		r.byCode[code] = uuid.New()
	}
}

func TestCloseUnindexesAndRevokes(t *testing.T) {
	r, mint := newTestRegistry(t)
	res, err := r.Create("Quizmaster", Settings{SetID: "one"})
	require.NoError(t, err)
	jr, err := r.Join(res.JoinCode, "Alice")
	require.NoError(t, err)

	l, ok := r.Get(res.LobbyID)
	require.True(t, ok)
	require.NoError(t, l.CloseByHost(res.ParticipantID))

	// Unindexing runs off the lobby loop; give it a beat.
	require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)

	_, ok = r.ResolveByJoinCode(res.JoinCode)
	assert.False(t, ok)

	_, err = mint.Resolve(res.HostToken)
	assert.ErrorIs(t, err, token.ErrTokenUnknown)
	_, err = mint.Resolve(jr.SessionToken)
	assert.ErrorIs(t, err, token.ErrTokenUnknown)
}

func TestGCSweep(t *testing.T) {
	t.Run("keeps active lobbies", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		_, err := r.Create("Quizmaster", Settings{})
		require.NoError(t, err)

		closed := r.GCSweep(time.Now().Add(time.Minute))
		assert.Equal(t, 0, closed)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("closes idle lobbies", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		_, err := r.Create("Quizmaster", Settings{})
		require.NoError(t, err)

		closed := r.GCSweep(time.Now().Add(3 * time.Hour))
		assert.Equal(t, 1, closed)
		require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("closes finished lobbies past retention", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		res, err := r.Create("Quizmaster", Settings{SetID: "one"})
		require.NoError(t, err)
		l, ok := r.Get(res.LobbyID)
		require.True(t, ok)
		require.NoError(t, l.EndGame(res.ParticipantID))

		// Past game-over retention but well inside the idle window.
		closed := r.GCSweep(time.Now().Add(11 * time.Minute))
		assert.Equal(t, 1, closed)
		require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)
	})
}

func TestIssueViewerToken(t *testing.T) {
	r, mint := newTestRegistry(t)
	res, err := r.Create("Quizmaster", Settings{})
	require.NoError(t, err)

	tok, err := r.IssueViewerToken(res.LobbyID)
	require.NoError(t, err)
	b, err := mint.Resolve(tok)
	require.NoError(t, err)
	assert.Equal(t, token.RoleViewer, b.Role)
	assert.Equal(t, res.LobbyID, b.LobbyID)

	_, err = r.IssueViewerToken(uuid.New())
	requireCode(t, err, CodeLobbyNotFound)
}
