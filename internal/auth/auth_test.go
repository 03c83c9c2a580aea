package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/traffic-tacos/auth-api/internal/models"
)

func TestBcryptHasher_HashAndVerify(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	first, err := h.Hash("1234")
	require.NoError(t, err)
	second, err := h.Hash("1234")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "salt must differ per call")
	assert.NotEqual(t, "1234", first)
	assert.True(t, h.Verify("1234", first))
	assert.True(t, h.Verify("1234", second))
	assert.False(t, h.Verify("4321", first))
	assert.False(t, h.Verify("1234", "not-a-hash"))
	assert.False(t, h.Verify("1234", ""))
}

func TestBcryptHasher_UsesConfiguredCost(t *testing.T) {
	h := NewBcryptHasher(8)

	hash, err := h.Hash("1234")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, 8, cost)
}

func TestBcryptHasher_TooLong(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	_, err := h.Hash(strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService("shh", 24*time.Hour)
	user := &models.User{UserID: 3, Username: "anna", RoleName: "angel"}

	token, err := svc.Issue(user)
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(3), claims.UserID)
	assert.Equal(t, "anna", claims.Username)
	assert.Equal(t, "angel", claims.RoleName)
	assert.NotEmpty(t, claims.ID)

	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.Equal(t, 24*time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestTokenService_PayloadShape(t *testing.T) {
	svc := NewTokenService("shh", 24*time.Hour)
	token, err := svc.Issue(&models.User{UserID: 1, Username: "bob", RoleName: "admin"})
	require.NoError(t, err)

	payload := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, payload)
	require.NoError(t, err)

	assert.Equal(t, float64(1), payload["subject"])
	assert.Equal(t, "bob", payload["username"])
	assert.Equal(t, "admin", payload["role_name"])
	assert.Contains(t, payload, "iat")
	assert.Contains(t, payload, "exp")
}

func TestTokenService_RejectsForeignSecret(t *testing.T) {
	issuer := NewTokenService("other-secret", time.Hour)
	verifier := NewTokenService("shh", time.Hour)

	token, err := issuer.Issue(&models.User{UserID: 1, Username: "bob", RoleName: "admin"})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenService_RejectsExpired(t *testing.T) {
	svc := NewTokenService("shh", 24*time.Hour)
	past := svc.WithClock(func() time.Time { return time.Now().Add(-25 * time.Hour) })

	token, err := past.Issue(&models.User{UserID: 1, Username: "bob", RoleName: "student"})
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// Still inside the window from the issuer's point of view.
	_, err = past.Verify(token)
	assert.NoError(t, err)
}

func TestTokenService_RejectsGarbageAndOtherAlgorithms(t *testing.T) {
	svc := NewTokenService("shh", time.Hour)

	for _, token := range []string{"", "abc", "a.b.c"} {
		_, err := svc.Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid, token)
	}

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := hs512.SignedString([]byte("shh"))
	require.NoError(t, err)
	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: 1})
	signed, err = noExp.SignedString([]byte("shh"))
	require.NoError(t, err)
	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRoleNamePolicy_Normalize(t *testing.T) {
	policy := RoleNamePolicy{Default: "student", MaxLength: 32, Reserved: []string{"admin"}}
	str := func(s string) *string { return &s }

	tests := []struct {
		name    string
		raw     *string
		want    string
		wantErr error
		message string
	}{
		{name: "absent", raw: nil, want: "student"},
		{name: "empty", raw: str(""), want: "student"},
		{name: "blank", raw: str("   "), want: "student"},
		{name: "trimmed", raw: str("  angel  "), want: "angel"},
		{name: "admin", raw: str("admin"), wantErr: ErrRoleNameReserved, message: "Role name can not be admin"},
		{name: "padded admin", raw: str("  admin \t"), wantErr: ErrRoleNameReserved, message: "Role name can not be admin"},
		{name: "admin other case", raw: str("Admin"), want: "Admin"},
		{name: "32 chars", raw: str(" " + strings.Repeat("a", 32) + " "), want: strings.Repeat("a", 32)},
		{name: "33 chars", raw: str(strings.Repeat("a", 33)), wantErr: ErrRoleNameTooLong, message: "Role name can not be longer than 32 chars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Normalize(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.message, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleNamePolicy_ExtraReserved(t *testing.T) {
	policy := RoleNamePolicy{Default: "student", MaxLength: 32, Reserved: []string{"admin", "root"}}
	root := "root"

	_, err := policy.Normalize(&root)
	require.ErrorIs(t, err, ErrRoleNameReserved)
	assert.Equal(t, "Role name can not be root", err.Error())
}
