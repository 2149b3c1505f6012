package nm

import (
	"crypto/sha1"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// ValidWifiPsk reports whether psk is a well-formed WPA pre-shared key:
// an ASCII passphrase of 8..63 characters, or exactly 64 hex digits.
func ValidWifiPsk(psk string) bool {
	n := len(psk)
	if n == 64 {
		_, err := hex.DecodeString(psk)
		return err == nil
	}
	if n < 8 || n > 63 {
		return false
	}
	for i := 0; i < n; i++ {
		if psk[i] < 32 || psk[i] > 126 {
			return false
		}
	}
	return true
}

// DeriveWifiPsk derives the 256-bit pre-shared key from a passphrase and
// SSID per IEEE 802.11i (PBKDF2-HMAC-SHA1, 4096 iterations), returned as
// 64 hex digits.
func DeriveWifiPsk(ssid []byte, passphrase string) string {
	key := pbkdf2.Key([]byte(passphrase), ssid, 4096, 32, sha1.New)
	return hex.EncodeToString(key)
}
