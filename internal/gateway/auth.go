package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const tokenTTL = 30 * 24 * time.Hour

// signToken issues "expiry.signature" where the signature is an HMAC-SHA256
// over the expiry with the configured secret.
func signToken(secret string, now time.Time) string {
	expiry := strconv.FormatInt(now.Add(tokenTTL).Unix(), 10)
	return expiry + "." + signPayload(secret, expiry)
}

func verifyToken(secret, token string) error {
	parts := strings.SplitN(strings.TrimSpace(token), ".", 2)
	if len(parts) != 2 {
		return errors.New("malformed token")
	}
	expected := signPayload(secret, parts[0])
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return errors.New("invalid token signature")
	}
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed expiry: %w", err)
	}
	if time.Now().Unix() >= expiry {
		return errors.New("token expired")
	}
	return nil
}

func signPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, deriveTokenKey(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func deriveTokenKey(secret string) []byte {
	sum := sha256.Sum256([]byte("amightyclaw-token." + secret))
	return sum[:]
}
