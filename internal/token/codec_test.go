package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCodec(t *testing.T) (*Codec, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := NewCodec(Config{Secret: testSecret, Issuer: "test", Now: clock.Now})
	require.NoError(t, err)
	return codec, clock
}

var alice = Subject{UserID: 7, Username: "alice", Role: "USER", Epoch: 2}

func TestNewCodec_RejectsShortSecret(t *testing.T) {
	_, err := NewCodec(Config{Secret: []byte("short")})
	assert.Error(t, err)
}

func TestCodec_IssueAndParse(t *testing.T) {
	codec, _ := newTestCodec(t)

	raw, err := codec.Issue(alice, TypeAccess, 15*time.Minute)
	require.NoError(t, err)

	claims, err := codec.Parse(raw, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "USER", claims.Role)
	assert.Equal(t, 2, claims.Epoch)
	assert.Equal(t, "test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, codec.Validate(raw))
}

func TestCodec_TokensAreUniqueWithinOneSecond(t *testing.T) {
	codec, _ := newTestCodec(t)

	first, err := codec.Issue(alice, TypeRefresh, time.Hour)
	require.NoError(t, err)
	second, err := codec.Issue(alice, TypeRefresh, time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCodec_ParseRejectsWrongType(t *testing.T) {
	codec, _ := newTestCodec(t)

	raw, err := codec.Issue(alice, TypeRefresh, time.Hour)
	require.NoError(t, err)

	_, err = codec.Parse(raw, TypeAccess)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestCodec_Expiry(t *testing.T) {
	codec, clock := newTestCodec(t)

	raw, err := codec.Issue(alice, TypeAccess, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.False(t, codec.Validate(raw))
	_, err = codec.Parse(raw, TypeAccess)
	assert.Error(t, err)

	exp, ok := codec.ExpiresAt(raw)
	assert.True(t, ok)
	assert.Equal(t, clock.t.Add(-time.Minute).Unix(), exp.Unix())
}

func TestCodec_FailsClosed(t *testing.T) {
	codec, _ := newTestCodec(t)
	valid, err := codec.Issue(alice, TypeAccess, time.Minute)
	require.NoError(t, err)

	other, err := NewCodec(Config{Secret: []byte("ffffffffffffffffffffffffffffffff"), Issuer: "test"})
	require.NoError(t, err)
	foreign, err := other.Issue(alice, TypeAccess, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tamperedPayload := base64.RawURLEncoding.EncodeToString([]byte(`{"uid":1,"username":"root","role":"ADMIN","typ":"access"}`))
	tampered := parts[0] + "." + tamperedPayload + "." + parts[2]

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"uid": 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-token",
		"two segments":   "a.b",
		"tampered":       tampered,
		"foreign secret": foreign,
		"alg none":       noneToken,
		"oversized":      strings.Repeat("a", MaxLength+1),
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, codec.Validate(raw))
				_, ok := codec.ExtractClaim(raw, "username")
				assert.False(t, ok)
			})
		})
	}
}

func TestCodec_ExtractClaimVerifiesFirst(t *testing.T) {
	codec, _ := newTestCodec(t)

	raw, err := codec.Issue(alice, TypeAccess, time.Minute)
	require.NoError(t, err)

	value, ok := codec.ExtractClaim(raw, "username")
	require.True(t, ok)
	assert.Equal(t, "alice", value)

	bob, err := codec.Issue(Subject{UserID: 8, Username: "bob", Role: "USER"}, TypeAccess, time.Minute)
	require.NoError(t, err)
	aliceParts := strings.Split(raw, ".")
	bobParts := strings.Split(bob, ".")
	spliced := aliceParts[0] + "." + aliceParts[1] + "." + bobParts[2]

	_, ok = codec.ExtractClaim(spliced, "username")
	assert.False(t, ok)
}

func TestCodec_WrongIssuer(t *testing.T) {
	codec, clock := newTestCodec(t)
	other, err := NewCodec(Config{Secret: testSecret, Issuer: "someone-else", Now: clock.Now})
	require.NoError(t, err)

	raw, err := other.Issue(alice, TypeAccess, time.Minute)
	require.NoError(t, err)

	assert.False(t, codec.Validate(raw))
}
