package vectorstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	SessionKeySize = 32
	keySalt        = "cyborg-chat/session-index/v1"
	keyCheckLabel  = "index-key-check"
)

// KeyRing derives one symmetric key per session from the master key.
type KeyRing struct {
	master []byte
}

func NewKeyRing(master []byte) (*KeyRing, error) {
	if len(master) < SessionKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", SessionKeySize, len(master))
	}
	m := make([]byte, len(master))
	copy(m, master)
	return &KeyRing{master: m}, nil
}

// SessionKey is HKDF-SHA256(master, salt, info=sessionID).
func (k *KeyRing) SessionKey(sessionID uuid.UUID) []byte {
	r := hkdf.New(sha256.New, k.master, []byte(keySalt), sessionID[:])
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails past 255*hash size bytes
		panic(err)
	}
	return key
}

// KeyCheck is a stable fingerprint of the session key that is safe to store
// next to the index.
func (k *KeyRing) KeyCheck(sessionID uuid.UUID) string {
	mac := hmac.New(sha256.New, k.SessionKey(sessionID))
	mac.Write([]byte(keyCheckLabel))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether check was produced by this key ring for sessionID.
func (k *KeyRing) Verify(sessionID uuid.UUID, check string) bool {
	return hmac.Equal([]byte(k.KeyCheck(sessionID)), []byte(check))
}
