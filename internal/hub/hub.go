// internal/hub/hub.go
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spektrum-live/spektrum/internal/quiz"
	"github.com/spektrum-live/spektrum/internal/token"
)

const (
	maxInboundBytes = 16 * 1024
	inboundPerSec   = 10
)

// Hub upgrades admitted tokens into persistent duplex connections and routes
// their traffic to the owning lobby. Connections never mutate lobby state
// directly; everything goes through lobby commands.
type Hub struct {
	logger   *logrus.Logger
	mint     *token.Mint
	registry *quiz.Registry
	origins  []string
}

// New builds a hub.
func New(logger *logrus.Logger, mint *token.Mint, registry *quiz.Registry, origins []string) *Hub {
	return &Hub{logger: logger, mint: mint, registry: registry, origins: origins}
}

// inboundMessage is the tagged wire form of every client -> server frame.
type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Kind string `json:"kind,omitempty"`
}

// Handler serves GET /ws?token=<session_token>.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: h.origins,
		})
		if err != nil {
			h.logger.WithError(err).Warn("websocket accept failed")
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")
		c.SetReadLimit(maxInboundBytes)

		tok := r.URL.Query().Get("token")
		binding, err := h.mint.Resolve(tok)
		if err != nil {
			reason := "token unknown"
			if errors.Is(err, token.ErrTokenExpired) {
				reason = "token expired"
			}
			c.Close(CloseInvalidToken, reason)
			return
		}

		lob, ok := h.registry.Get(binding.LobbyID)
		if !ok {
			c.Close(CloseLobbyGone, "lobby no longer exists")
			return
		}

		logger := h.logger.WithFields(logrus.Fields{
			"lobby":       binding.LobbyID,
			"participant": binding.ParticipantID,
			"role":        binding.Role,
			"remote":      r.RemoteAddr,
		})

		conn := newWSConn()
		viewer := binding.Role == token.RoleViewer
		if err := lob.Attach(binding.ParticipantID, viewer, conn); err != nil {
			logger.WithError(err).Warn("attach rejected")
			c.Close(CloseLobbyGone, string(quiz.CodeOf(err)))
			return
		}
		logger.Info("attached")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go conn.writePump(ctx, c, logger)

		h.readPump(ctx, c, lob, conn, binding, tok, logger)

		lob.Detach(binding.ParticipantID, conn)
		conn.Close("connection closed")
		logger.Info("detached")
	}
}

// readPump consumes inbound frames until the connection dies. Parse errors
// and cap violations close the connection with an error frame first.
func (h *Hub) readPump(ctx context.Context, c *websocket.Conn, lob *quiz.Lobby, conn *wsConn, binding token.Binding, rawToken string, logger *logrus.Entry) {
	limiter := newRateWindow(inboundPerSec, time.Second)

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Debug("websocket closed by peer")
			} else if ctx.Err() == nil {
				logger.WithError(err).Debug("read error")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		if !limiter.allow(time.Now()) {
			conn.Send(quiz.ErrorFrame{Type: quiz.TypeError, Code: quiz.CodeRateLimited, Message: "too many messages"})
			c.Close(CloseProtocolAbuse, "rate limit exceeded")
			return
		}

		msg, err := parseInbound(data)
		if err != nil {
			conn.Send(quiz.ErrorFrame{Type: quiz.TypeError, Code: quiz.CodeInternal, Message: "unparseable frame"})
			c.Close(CloseProtocolAbuse, "invalid json")
			return
		}

		if done := h.dispatch(lob, conn, binding, rawToken, msg, logger); done {
			return
		}
	}
}

func parseInbound(data []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return inboundMessage{}, err
	}
	return msg, nil
}

// dispatch routes one inbound message. Returns true when the connection
// should stop reading.
func (h *Hub) dispatch(lob *quiz.Lobby, conn *wsConn, binding token.Binding, rawToken string, msg inboundMessage, logger *logrus.Entry) bool {
	switch msg.Type {
	case "Heartbeat":
		conn.Send(quiz.Pong{Type: quiz.TypePong})
		return false

	case "Answer":
		if binding.Role != token.RolePlayer {
			conn.Send(quiz.ErrorFrame{Type: quiz.TypeError, Code: quiz.CodeUnauthorized, Message: "only players may answer"})
			return false
		}
		if err := lob.SubmitAnswer(binding.ParticipantID, msg.Text); err != nil {
			conn.Send(quiz.NewErrorFrame(err))
		}
		return false

	case "Leave":
		// The host's identity is immutable; a leaving host only detaches and
		// can reattach with the same token.
		if binding.Role == token.RolePlayer {
			if err := lob.Leave(binding.ParticipantID); err != nil {
				logger.WithError(err).Debug("leave rejected")
			}
			h.mint.Revoke(rawToken)
		}
		conn.Close("left lobby")
		return true

	case "AdminAction":
		if binding.Role != token.RoleHost {
			conn.Send(quiz.ErrorFrame{Type: quiz.TypeError, Code: quiz.CodeUnauthorized, Message: "only the host may do that"})
			return false
		}
		if err := h.adminAction(lob, binding.ParticipantID, msg.Kind); err != nil {
			conn.Send(quiz.NewErrorFrame(err))
		}
		return false

	default:
		conn.Send(quiz.ErrorFrame{Type: quiz.TypeError, Code: quiz.CodeInternal, Message: "unknown message type " + msg.Type})
		return false
	}
}

func (h *Hub) adminAction(lob *quiz.Lobby, issuer uuid.UUID, kind string) error {
	switch kind {
	case "StartGame":
		return lob.StartGame(issuer)
	case "StartRound":
		return lob.StartRound(issuer)
	case "EndRound":
		return lob.EndRound(issuer)
	case "SkipQuestion":
		return lob.SkipQuestion(issuer)
	case "EndGame":
		return lob.EndGame(issuer)
	case "CloseGame":
		return lob.CloseByHost(issuer)
	default:
		return quiz.E(quiz.CodeInternal, "unknown admin action %q", kind)
	}
}
