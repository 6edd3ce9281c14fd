package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/flowgrow/promo-service/internal/domain"
)

// TelegramVerifier validates login payloads signed by Telegram.
//
// Two distinct schemes exist and must stay separate: the in-app WebApp
// initData is checked against HMAC-SHA256(key="WebAppData", msg=botToken),
// while the external Login Widget payload is checked against a key that is
// the plain SHA-256 of the bot token. Unifying them would reject every
// valid login on one of the two surfaces.
type TelegramVerifier struct {
	botToken string
}

func NewTelegramVerifier(botToken string) *TelegramVerifier {
	return &TelegramVerifier{botToken: strings.TrimSpace(botToken)}
}

type webAppUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// VerifyInitData checks a WebApp initData query string and returns the
// embedded identity. Verification is pure: same payload and token always
// yield the same verdict.
func (v *TelegramVerifier) VerifyInitData(initData string) (domain.Identity, error) {
	if v.botToken == "" {
		return domain.Identity{}, domain.ErrNotConfigured
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return domain.Identity{}, domain.ErrInvalidSignature
	}

	hash := values.Get("hash")
	if hash == "" {
		return domain.Identity{}, domain.ErrInvalidSignature
	}
	values.Del("hash")

	secret := hmacSHA256([]byte("WebAppData"), []byte(v.botToken))
	if !checkMAC(secret, canonicalize(values), hash) {
		return domain.Identity{}, domain.ErrInvalidSignature
	}

	userJSON := values.Get("user")
	if userJSON == "" {
		return domain.Identity{}, domain.ErrMalformedIdentity
	}
	var u webAppUser
	if err := json.Unmarshal([]byte(userJSON), &u); err != nil || u.ID == 0 {
		return domain.Identity{}, domain.ErrMalformedIdentity
	}

	return domain.Identity{
		TelegramID:  strconv.FormatInt(u.ID, 10),
		DisplayName: firstNonEmpty(u.Username, u.FirstName),
	}, nil
}

// VerifyWidget checks a Login Widget payload (flat key/value map, values
// already in their external string form).
func (v *TelegramVerifier) VerifyWidget(fields map[string]string) (domain.Identity, error) {
	if v.botToken == "" {
		return domain.Identity{}, domain.ErrNotConfigured
	}

	hash := fields["hash"]
	if hash == "" {
		return domain.Identity{}, domain.ErrInvalidSignature
	}

	pairs := make([]string, 0, len(fields))
	for k, val := range fields {
		if k == "hash" {
			continue
		}
		pairs = append(pairs, k+"="+val)
	}
	sort.Strings(pairs)

	secret := sha256.Sum256([]byte(v.botToken))
	if !checkMAC(secret[:], strings.Join(pairs, "\n"), hash) {
		return domain.Identity{}, domain.ErrInvalidSignature
	}

	id := strings.TrimSpace(fields["id"])
	if id == "" {
		return domain.Identity{}, domain.ErrMalformedIdentity
	}

	return domain.Identity{
		TelegramID:  id,
		DisplayName: firstNonEmpty(fields["username"], fields["first_name"]),
	}, nil
}

// FlattenClaims renders decoded JSON claim values into the string form
// Telegram signed. The decoder must use json.Number so integer ids keep
// their exact representation.
func FlattenClaims(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case bool:
			out[k] = strconv.FormatBool(t)
		case float64:
			// only reached when the decoder did not use UseNumber
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case nil:
			out[k] = ""
		default:
			b, _ := json.Marshal(t)
			out[k] = string(b)
		}
	}
	return out
}

// canonicalize builds the data-check-string: key=value pairs sorted by
// key, joined with \n, no trailing newline.
func canonicalize(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	return strings.Join(pairs, "\n")
}

// checkMAC compares the expected MAC against the hex-encoded claim in
// constant time.
func checkMAC(key []byte, message, claimedHex string) bool {
	claimed, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(claimedHex)))
	if err != nil {
		return false
	}
	expected := hmacSHA256(key, []byte(message))
	return hmac.Equal(expected, claimed)
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
