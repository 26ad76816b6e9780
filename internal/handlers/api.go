// internal/handlers/api.go
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spektrum-live/spektrum/internal/auth"
	"github.com/spektrum-live/spektrum/internal/catalog"
	"github.com/spektrum-live/spektrum/internal/quiz"
	"github.com/spektrum-live/spektrum/internal/token"
)

// maxBodyBytes caps JSON request bodies; the catalog upload gets more room.
const (
	maxBodyBytes        = 64 * 1024
	maxCatalogBodyBytes = 8 * 1024 * 1024
)

// API is the stateless request/response surface: lobby admission plus the
// password-gated admin operations.
type API struct {
	Logger         *logrus.Logger
	Registry       *quiz.Registry
	Mint           *token.Mint
	Catalog        *catalog.Holder
	Store          catalog.Store
	AdminPasswords []string
	RoundDuration  time.Duration
}

// Register wires the API routes onto a mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/list-sets", a.ListSets)
	mux.HandleFunc("POST /api/create-lobby", a.CreateLobby)
	mux.HandleFunc("POST /api/join-lobby", a.JoinLobby)
	mux.HandleFunc("POST /api/overlay-token", a.OverlayToken)
	mux.HandleFunc("GET /api/admin/catalog", a.GetCatalog)
	mux.HandleFunc("PUT /api/admin/catalog", a.PutCatalog)
}

// ListSets returns every question set with its size.
func (a *API) ListSets(w http.ResponseWriter, r *http.Request) {
	sets := a.Catalog.Get().ListSets()
	writeJSON(w, http.StatusOK, map[string]any{"sets": sets})
}

type createLobbyRequest struct {
	AdminPassword   string `json:"admin_password"`
	SetID           string `json:"set_id,omitempty"`
	HostName        string `json:"host_name"`
	RoundDurationMS int64  `json:"round_duration_ms,omitempty"`
}

// CreateLobby authorizes against the admin password and spins up a lobby.
func (a *API) CreateLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if !decodeJSON(w, r, &req, maxBodyBytes) {
		return
	}
	if !auth.VerifyAdmin(req.AdminPassword, a.AdminPasswords) {
		writeError(w, http.StatusUnauthorized, quiz.CodeUnauthorized, "bad admin password")
		return
	}

	duration := a.RoundDuration
	if req.RoundDurationMS != 0 {
		if req.RoundDurationMS < 1000 || req.RoundDurationMS > 10*60*1000 {
			writeError(w, http.StatusBadRequest, "InvalidConfig", "round_duration_ms must be between 1000 and 600000")
			return
		}
		duration = time.Duration(req.RoundDurationMS) * time.Millisecond
	}

	res, err := a.Registry.Create(req.HostName, quiz.Settings{
		RoundDuration: duration,
		SetID:         req.SetID,
	})
	if err != nil {
		writeQuizError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lobby_id":   res.LobbyID,
		"join_code":  res.JoinCode,
		"host_token": res.HostToken,
	})
}

type joinLobbyRequest struct {
	JoinCode string `json:"join_code"`
	Name     string `json:"name"`
}

// JoinLobby admits a player and hands back their session token.
func (a *API) JoinLobby(w http.ResponseWriter, r *http.Request) {
	var req joinLobbyRequest
	if !decodeJSON(w, r, &req, maxBodyBytes) {
		return
	}
	res, err := a.Registry.Join(req.JoinCode, req.Name)
	if err != nil {
		writeQuizError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type overlayTokenRequest struct {
	HostToken string `json:"host_token"`
}

// OverlayToken lets the host mint a read-only viewer token for stream
// overlays of their lobby.
func (a *API) OverlayToken(w http.ResponseWriter, r *http.Request) {
	var req overlayTokenRequest
	if !decodeJSON(w, r, &req, maxBodyBytes) {
		return
	}
	binding, err := a.Mint.Resolve(req.HostToken)
	if err != nil || binding.Role != token.RoleHost {
		writeError(w, http.StatusUnauthorized, quiz.CodeUnauthorized, "host token required")
		return
	}
	viewerToken, err := a.Registry.IssueViewerToken(binding.LobbyID)
	if err != nil {
		writeQuizError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"viewer_token": viewerToken})
}

// GetCatalog returns the raw persisted catalog blob.
func (a *API) GetCatalog(w http.ResponseWriter, r *http.Request) {
	if !auth.VerifyAdmin(r.URL.Query().Get("admin_password"), a.AdminPasswords) {
		writeError(w, http.StatusUnauthorized, quiz.CodeUnauthorized, "bad admin password")
		return
	}
	blob := a.Catalog.Get().Blob()
	writeJSON(w, http.StatusOK, blob)
}

// PutCatalog validates an uploaded catalog, persists it (whole-blob
// replace) and atomically swaps the live snapshot. Lobbies already running
// keep the snapshot they started with.
func (a *API) PutCatalog(w http.ResponseWriter, r *http.Request) {
	if !auth.VerifyAdmin(r.Header.Get("X-Admin-Password"), a.AdminPasswords) {
		writeError(w, http.StatusUnauthorized, quiz.CodeUnauthorized, "bad admin password")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCatalogBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, quiz.CodePayloadTooLarge, "could not read body")
		return
	}
	snap, err := catalog.New(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidConfig", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := a.Store.Save(ctx, raw); err != nil {
		a.Logger.WithError(err).Error("catalog save failed")
		writeError(w, http.StatusInternalServerError, quiz.CodeInternal, "could not persist catalog")
		return
	}
	a.Catalog.Swap(snap)
	a.Logger.Info("catalog replaced")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- helpers ----------------------------------------------------------------

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidConfig", "malformed JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code quiz.Code, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "message": msg})
}

// writeQuizError maps the stable error codes onto HTTP statuses.
func writeQuizError(w http.ResponseWriter, err error) {
	code := quiz.CodeOf(err)
	msg := err.Error()
	if qe, ok := err.(*quiz.Error); ok {
		msg = qe.Message
	}
	status := http.StatusInternalServerError
	switch code {
	case quiz.CodeUnauthorized:
		status = http.StatusUnauthorized
	case quiz.CodeLobbyNotFound, quiz.CodeQuestionNotFound:
		status = http.StatusNotFound
	case quiz.CodeNameTaken:
		status = http.StatusConflict
	case quiz.CodeInvalidName:
		status = http.StatusUnprocessableEntity
	case quiz.CodeLobbyNotJoinable, quiz.CodeLobbyClosed:
		status = http.StatusForbidden
	case quiz.CodeInvalidJoinCode, quiz.CodeEmptyCatalog:
		status = http.StatusBadRequest
	}
	writeError(w, status, code, msg)
}
