package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

func signSHA256(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signSHA512(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHMACAuthenticator(t *testing.T) {
	payload := []byte(`{"cpm_trans_id":"CP-1"}`)
	auth := NewHMACSHA256("x-token", "topsecret")

	header := http.Header{}
	header.Set("x-token", signSHA256("topsecret", payload))
	require.NoError(t, auth.Authenticate(payload, header))

	// 0x prefixed signatures are accepted.
	header.Set("x-token", "0x"+signSHA256("topsecret", payload))
	require.NoError(t, auth.Authenticate(payload, header))

	header.Set("x-token", signSHA256("wrong-secret", payload))
	require.ErrorIs(t, auth.Authenticate(payload, header), domain.ErrAuthentication)

	// Signature over a different body must not verify.
	header.Set("x-token", signSHA256("topsecret", []byte(`tampered`)))
	require.ErrorIs(t, auth.Authenticate(payload, header), domain.ErrAuthentication)

	header.Set("x-token", "not-hex")
	require.ErrorIs(t, auth.Authenticate(payload, header), domain.ErrAuthentication)

	header.Del("x-token")
	require.ErrorIs(t, auth.Authenticate(payload, header), domain.ErrAuthentication)
}

func TestHMACAuthenticator_SHA512(t *testing.T) {
	payload := []byte(`{"payment_id":42}`)
	auth := NewHMACSHA512("x-nowpayments-sig", "ipn-secret")

	header := http.Header{}
	header.Set("x-nowpayments-sig", signSHA512("ipn-secret", payload))
	require.NoError(t, auth.Authenticate(payload, header))

	// A SHA-256 signature under the same secret must not pass.
	header.Set("x-nowpayments-sig", signSHA256("ipn-secret", payload))
	require.ErrorIs(t, auth.Authenticate(payload, header), domain.ErrAuthentication)
}

func TestHMACAuthenticator_UnconfiguredSecretRejects(t *testing.T) {
	auth := NewHMACSHA256("x-token", "")
	header := http.Header{}
	header.Set("x-token", signSHA256("", []byte("x")))
	require.ErrorIs(t, auth.Authenticate([]byte("x"), header), domain.ErrAuthentication)
}

func TestBearerAuthenticator(t *testing.T) {
	auth := BearerAuthenticator{Token: "master-key"}

	header := http.Header{}
	header.Set("Authorization", "Bearer master-key")
	require.NoError(t, auth.Authenticate(nil, header))

	header.Set("Authorization", "Bearer nope")
	require.ErrorIs(t, auth.Authenticate(nil, header), domain.ErrAuthentication)

	header.Set("Authorization", "Basic master-key")
	require.ErrorIs(t, auth.Authenticate(nil, header), domain.ErrAuthentication)
}

func TestBasicAuthenticator(t *testing.T) {
	auth := BasicAuthenticator{Username: "hook", Password: "s3cret"}

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("hook:s3cret")))
	require.NoError(t, auth.Authenticate(nil, header))

	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("hook:wrong")))
	require.ErrorIs(t, auth.Authenticate(nil, header), domain.ErrAuthentication)

	header.Del("Authorization")
	require.ErrorIs(t, auth.Authenticate(nil, header), domain.ErrAuthentication)
}

func TestVerifyAny_OrderedFallback(t *testing.T) {
	payload := []byte(`{}`)
	basic := BasicAuthenticator{Username: "hook", Password: "s3cret"}
	bearer := BearerAuthenticator{Token: "master-key"}

	// Second scheme matches after the first fails.
	header := http.Header{}
	header.Set("Authorization", "Bearer master-key")
	require.NoError(t, VerifyAny(payload, header, basic, bearer))

	header.Set("Authorization", "Bearer nothing")
	require.ErrorIs(t, VerifyAny(payload, header, basic, bearer), domain.ErrAuthentication)

	require.ErrorIs(t, VerifyAny(payload, http.Header{}), domain.ErrAuthentication)
}
