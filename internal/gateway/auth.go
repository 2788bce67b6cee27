package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
)

// signToken produces the signed token bound to sessionID that a client must
// present to open the audio or realtime-av channel (§4.11).
func signToken(secret []byte, sessionID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sessionID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verifyToken reports whether token was produced by signToken for
// sessionID. An empty secret disables authentication entirely (local/dev
// deployments), matching the "all optional with sensible defaults" posture
// of §6's environment configuration.
func verifyToken(secret []byte, sessionID, token string) bool {
	if len(secret) == 0 {
		return true
	}
	want := signToken(secret, sessionID)
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

// authenticate extracts session_id and token from the request's query
// string and validates the token. On failure it writes 401 and returns
// false; callers must not proceed to Accept the WebSocket.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request) (sessionID string, ok bool) {
	sessionID = r.URL.Query().Get("session_id")
	token := r.URL.Query().Get("token")
	if sessionID == "" || !verifyToken(g.cfg.TokenSecret, sessionID, token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return sessionID, true
}
