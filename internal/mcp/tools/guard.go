package tools

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// AuthSuffix must be appended to the current code to authorize a clear.
const AuthSuffix = "_DELETE_THIS_GRAPH"

// Guard implements the two-step authorization protocol for destructive
// operations. A short per-process code is handed out on the first call and
// must be echoed back with the confirmation suffix. The code rotates after
// every failed attempt and after every successful clear.
type Guard struct {
	mu   sync.Mutex
	code string
}

// NewGuard creates a guard with a fresh code.
func NewGuard() *Guard {
	return &Guard{code: newCode()}
}

// Check validates an auth string. An empty auth returns AuthRequired with
// the current code; a mismatch rotates the code and returns AuthInvalid
// carrying the new one. On success the code rotates too, so each clear
// needs a fresh confirmation.
func (g *Guard) Check(auth string) *Error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if auth == "" {
		return Errorf(KindAuthRequired,
			"destructive operation requires confirmation: re-call with auth = %q after user confirmation",
			g.code+AuthSuffix)
	}
	if auth != g.code+AuthSuffix {
		g.code = newCode()
		return Errorf(KindAuthInvalid,
			"authorization code mismatch; the code has been rotated: re-call with auth = %q after user confirmation",
			g.code+AuthSuffix)
	}
	g.code = newCode()
	return nil
}

func newCode() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
