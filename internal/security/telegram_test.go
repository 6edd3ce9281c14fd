package security_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/flowgrow/promo-service/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"

func hmacHex(key []byte, msg string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func dataCheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}
	return strings.Join(pairs, "\n")
}

// signInitData builds a query string signed the way the Mini App runtime
// signs initData.
func signInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()

	keyMAC := hmac.New(sha256.New, []byte("WebAppData"))
	keyMAC.Write([]byte(botToken))
	secret := keyMAC.Sum(nil)

	hash := hmacHex(secret, dataCheckString(fields))

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", hash)
	return values.Encode()
}

// signWidget signs a Login Widget payload with the SHA-256 of the token.
func signWidget(t *testing.T, botToken string, fields map[string]string) map[string]string {
	t.Helper()

	secret := sha256.Sum256([]byte(botToken))
	hash := hmacHex(secret[:], dataCheckString(fields))

	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["hash"] = hash
	return out
}

func TestVerifyInitData(t *testing.T) {
	v := security.NewTelegramVerifier(testBotToken)

	valid := map[string]string{
		"auth_date": "1712345678",
		"query_id":  "AAE5mzEeAAAAADmbMR5v0qzF",
		"user":      `{"id":507274041,"first_name":"Ann","username":"ann_promotes"}`,
	}

	t.Run("valid payload", func(t *testing.T) {
		identity, err := v.VerifyInitData(signInitData(t, testBotToken, valid))
		require.NoError(t, err)
		assert.Equal(t, "507274041", identity.TelegramID)
		assert.Equal(t, "ann_promotes", identity.DisplayName)
	})

	t.Run("tampered field flips verdict", func(t *testing.T) {
		signed := signInitData(t, testBotToken, valid)
		tampered := strings.Replace(signed, "507274041", "507274042", 1)

		_, err := v.VerifyInitData(tampered)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("missing hash", func(t *testing.T) {
		values := url.Values{}
		for k, val := range valid {
			values.Set(k, val)
		}
		_, err := v.VerifyInitData(values.Encode())
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("wrong bot token", func(t *testing.T) {
		_, err := v.VerifyInitData(signInitData(t, "999:other-token", valid))
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("widget-scheme signature rejected", func(t *testing.T) {
		// Same canonical string signed with the widget key must not pass.
		secret := sha256.Sum256([]byte(testBotToken))
		hash := hmacHex(secret[:], dataCheckString(valid))

		values := url.Values{}
		for k, val := range valid {
			values.Set(k, val)
		}
		values.Set("hash", hash)

		_, err := v.VerifyInitData(values.Encode())
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("missing user field", func(t *testing.T) {
		_, err := v.VerifyInitData(signInitData(t, testBotToken, map[string]string{
			"auth_date": "1712345678",
		}))
		assert.ErrorIs(t, err, domain.ErrMalformedIdentity)
	})

	t.Run("malformed user json", func(t *testing.T) {
		_, err := v.VerifyInitData(signInitData(t, testBotToken, map[string]string{
			"auth_date": "1712345678",
			"user":      `{"id":`,
		}))
		assert.ErrorIs(t, err, domain.ErrMalformedIdentity)
	})

	t.Run("zero user id", func(t *testing.T) {
		_, err := v.VerifyInitData(signInitData(t, testBotToken, map[string]string{
			"auth_date": "1712345678",
			"user":      `{"id":0,"username":"ghost"}`,
		}))
		assert.ErrorIs(t, err, domain.ErrMalformedIdentity)
	})

	t.Run("not configured", func(t *testing.T) {
		empty := security.NewTelegramVerifier("")
		_, err := empty.VerifyInitData(signInitData(t, testBotToken, valid))
		assert.ErrorIs(t, err, domain.ErrNotConfigured)
	})
}

func TestVerifyWidget(t *testing.T) {
	v := security.NewTelegramVerifier(testBotToken)

	valid := map[string]string{
		"id":         "507274041",
		"first_name": "Ann",
		"username":   "ann_promotes",
		"auth_date":  "1712345678",
	}

	t.Run("valid payload", func(t *testing.T) {
		identity, err := v.VerifyWidget(signWidget(t, testBotToken, valid))
		require.NoError(t, err)
		assert.Equal(t, "507274041", identity.TelegramID)
		assert.Equal(t, "ann_promotes", identity.DisplayName)
	})

	t.Run("first_name fallback", func(t *testing.T) {
		fields := map[string]string{
			"id":         "99",
			"first_name": "Ben",
			"auth_date":  "1712345678",
		}
		identity, err := v.VerifyWidget(signWidget(t, testBotToken, fields))
		require.NoError(t, err)
		assert.Equal(t, "Ben", identity.DisplayName)
	})

	t.Run("tampered field flips verdict", func(t *testing.T) {
		signed := signWidget(t, testBotToken, valid)
		signed["id"] = "507274042"

		_, err := v.VerifyWidget(signed)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("missing hash", func(t *testing.T) {
		_, err := v.VerifyWidget(valid)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("webapp-scheme signature rejected", func(t *testing.T) {
		keyMAC := hmac.New(sha256.New, []byte("WebAppData"))
		keyMAC.Write([]byte(testBotToken))
		secret := keyMAC.Sum(nil)

		fields := make(map[string]string, len(valid)+1)
		for k, val := range valid {
			fields[k] = val
		}
		fields["hash"] = hmacHex(secret, dataCheckString(valid))

		_, err := v.VerifyWidget(fields)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("missing id", func(t *testing.T) {
		fields := map[string]string{
			"first_name": "Ann",
			"auth_date":  "1712345678",
		}
		_, err := v.VerifyWidget(signWidget(t, testBotToken, fields))
		assert.ErrorIs(t, err, domain.ErrMalformedIdentity)
	})

	t.Run("not configured", func(t *testing.T) {
		empty := security.NewTelegramVerifier("")
		_, err := empty.VerifyWidget(signWidget(t, testBotToken, valid))
		assert.ErrorIs(t, err, domain.ErrNotConfigured)
	})
}

func TestFlattenClaims(t *testing.T) {
	got := security.FlattenClaims(map[string]any{
		"id":        mustNumber("507274041"),
		"username":  "ann_promotes",
		"auth_date": mustNumber("1712345678"),
		"verified":  true,
		"photo_url": nil,
	})

	assert.Equal(t, "507274041", got["id"])
	assert.Equal(t, "1712345678", got["auth_date"])
	assert.Equal(t, "ann_promotes", got["username"])
	assert.Equal(t, "true", got["verified"])
	assert.Equal(t, "", got["photo_url"])
}

func mustNumber(s string) json.Number {
	return json.Number(s)
}
