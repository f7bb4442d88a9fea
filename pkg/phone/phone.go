// Package phone accepts telephony media-stream WebSocket connections and
// exposes each one as a Call: an ordered event channel inbound and media/clear
// writes outbound. The protocol is the JSON framing used by PSTN media
// streaming (connected/start/media/stop events, base64 μ-law payloads).
//
// The package is transport only. It does not transcode, buffer across frames,
// or interpret audio; that belongs to the relay driving the Call.
package phone

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// CallHandler runs one accepted call. It is invoked on the connection's
// goroutine; when it returns the call is closed. The context is the HTTP
// request context and is cancelled when the socket drops.
type CallHandler func(ctx context.Context, call *Call)

// Server upgrades inbound HTTP requests to media-stream calls.
type Server struct {
	handler CallHandler
}

// NewServer returns a Server dispatching each accepted call to handler.
func NewServer(handler CallHandler) *Server {
	return &Server{handler: handler}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Telephony providers connect server-to-server without a browser
		// Origin header; origin checking has nothing to verify here.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("phone: websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	call := newCall(conn)
	defer call.Close()

	slog.Debug("phone: media stream connected", "remote", r.RemoteAddr)
	s.handler(r.Context(), call)
	slog.Debug("phone: media stream finished", "remote", r.RemoteAddr, "stream_sid", call.StreamSid())
}
