package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var caller = common.HexToAddress("0xa11ce")

func TestIssueAndParse(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cr3t", Issuer: "doughd"})
	require.NoError(t, err)

	token, err := Issue("s3cr3t", "doughd", caller, RoleAdmin, time.Hour)
	require.NoError(t, err)
	id, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, caller, id.Address)
	require.Equal(t, RoleAdmin, id.Role)

	plain, err := Issue("s3cr3t", "doughd", caller, "", time.Hour)
	require.NoError(t, err)
	id, err = v.Parse(plain)
	require.NoError(t, err)
	require.Equal(t, RoleUser, id.Role)
}

func TestParseRejects(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cr3t", Issuer: "doughd", ClockSkew: time.Second})
	require.NoError(t, err)

	wrongKey, _ := Issue("other", "doughd", caller, RoleUser, time.Hour)
	_, err = v.Parse(wrongKey)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, _ := Issue("s3cr3t", "doughd", caller, RoleUser, -time.Hour)
	_, err = v.Parse(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, _ := Issue("s3cr3t", "elsewhere", caller, RoleUser, time.Hour)
	_, err = v.Parse(wrongIssuer)
	require.ErrorIs(t, err, ErrInvalidToken)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "doughd",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString([]byte("s3cr3t"))
	require.NoError(t, err)
	_, err = v.Parse(badSubject)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareAndRoles(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cr3t"})
	require.NoError(t, err)
	handler := v.Middleware(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(id.Address.Hex()))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	userToken, _ := Issue("s3cr3t", "", caller, RoleUser, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	adminToken, _ := Issue("s3cr3t", "", caller, RoleAdmin, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/?access_token="+adminToken, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, caller.Hex(), rec.Body.String())
}
