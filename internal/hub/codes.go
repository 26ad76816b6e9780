// internal/hub/codes.go
package hub

import "github.com/coder/websocket"

// Custom close codes for the duplex channel, beyond the standard range.
const (
	// CloseInvalidToken means the session token was unknown or expired.
	CloseInvalidToken websocket.StatusCode = 3001
	// CloseLobbyGone means the token's lobby no longer exists.
	CloseLobbyGone websocket.StatusCode = 3002
	// CloseProtocolAbuse means the client exceeded the size or rate caps,
	// or sent an unparseable frame.
	CloseProtocolAbuse websocket.StatusCode = 3003
)
