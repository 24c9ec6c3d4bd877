package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strings"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

// Authenticator verifies one authentication scheme on an inbound webhook.
// Implementations are pure: no state, no logging, constant-time comparisons.
type Authenticator interface {
	Authenticate(payload []byte, header http.Header) error
}

// VerifyAny tries authenticators in order and succeeds on the first match.
// Providers that accept multiple schemes (signature header or Basic auth)
// configure an ordered list; all-fail yields domain.ErrAuthentication.
func VerifyAny(payload []byte, header http.Header, auths ...Authenticator) error {
	if len(auths) == 0 {
		return fmt.Errorf("%w: no authenticators configured", domain.ErrAuthentication)
	}
	for _, a := range auths {
		if err := a.Authenticate(payload, header); err == nil {
			return nil
		}
	}
	return domain.ErrAuthentication
}

// HMACAuthenticator checks a hex-encoded HMAC of the raw payload carried in
// a provider-specific header.
type HMACAuthenticator struct {
	Header string
	Secret string
	Hash   func() hash.Hash
}

// NewHMACSHA256 builds an HMAC-SHA256 authenticator.
func NewHMACSHA256(header, secret string) HMACAuthenticator {
	return HMACAuthenticator{Header: header, Secret: secret, Hash: sha256.New}
}

// NewHMACSHA512 builds an HMAC-SHA512 authenticator.
func NewHMACSHA512(header, secret string) HMACAuthenticator {
	return HMACAuthenticator{Header: header, Secret: secret, Hash: sha512.New}
}

func (a HMACAuthenticator) Authenticate(payload []byte, header http.Header) error {
	if a.Secret == "" {
		return fmt.Errorf("%w: hmac secret not configured", domain.ErrAuthentication)
	}
	provided := strings.TrimSpace(header.Get(a.Header))
	provided = strings.TrimPrefix(strings.ToLower(provided), "0x")
	if provided == "" {
		return fmt.Errorf("%w: missing %s header", domain.ErrAuthentication, a.Header)
	}
	got, err := hex.DecodeString(provided)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", domain.ErrAuthentication)
	}
	mac := hmac.New(a.Hash, []byte(a.Secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), got) {
		return domain.ErrAuthentication
	}
	return nil
}

// BearerAuthenticator checks a shared bearer token in the Authorization
// header.
type BearerAuthenticator struct {
	Token string
}

func (a BearerAuthenticator) Authenticate(_ []byte, header http.Header) error {
	if a.Token == "" {
		return fmt.Errorf("%w: bearer token not configured", domain.ErrAuthentication)
	}
	raw := strings.TrimSpace(header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return fmt.Errorf("%w: missing bearer credentials", domain.ErrAuthentication)
	}
	candidate := strings.TrimSpace(strings.TrimPrefix(raw, prefix))
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(a.Token)) != 1 {
		return domain.ErrAuthentication
	}
	return nil
}

// BasicAuthenticator checks HTTP Basic credentials.
type BasicAuthenticator struct {
	Username string
	Password string
}

func (a BasicAuthenticator) Authenticate(_ []byte, header http.Header) error {
	if a.Username == "" && a.Password == "" {
		return fmt.Errorf("%w: basic credentials not configured", domain.ErrAuthentication)
	}
	req := http.Request{Header: header}
	user, pass, ok := req.BasicAuth()
	if !ok {
		return fmt.Errorf("%w: missing basic credentials", domain.ErrAuthentication)
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.Password)) == 1
	if !userOK || !passOK {
		return domain.ErrAuthentication
	}
	return nil
}
