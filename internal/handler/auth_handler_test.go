package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portail-univ/demande-api/internal/models"
	appErrors "github.com/portail-univ/demande-api/pkg/errors"
)

type fakeAuthSrv struct {
	loginResp   *models.LoginResponse
	refreshResp *models.RefreshTokenResponse
	err         error
	lastLogin   models.LoginRequest
	lastLogout  struct {
		token  string
		userID string
	}
}

func (f *fakeAuthSrv) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.lastLogin = req
	return f.loginResp, f.err
}

func (f *fakeAuthSrv) RefreshToken(context.Context, models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return f.refreshResp, f.err
}

func (f *fakeAuthSrv) Logout(_ context.Context, refreshToken, userID string) error {
	f.lastLogout.token = refreshToken
	f.lastLogout.userID = userID
	return f.err
}

func (f *fakeAuthSrv) ChangePassword(context.Context, string, models.ChangePasswordRequest) error {
	return f.err
}

func TestAuthHandlerLoginRecordsClientMetadata(t *testing.T) {
	service := &fakeAuthSrv{loginResp: &models.LoginResponse{AccessToken: "token"}}
	h := NewAuthHandler(service)

	c, rec := testContext(t, http.MethodPost, "/auth/login",
		`{"email":"etudiant@univ.fr","password":"secret"}`)
	c.Request.Header.Set("User-Agent", "portail-web/2.1")

	h.Login(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "etudiant@univ.fr", service.lastLogin.Email)
	assert.Equal(t, "portail-web/2.1", service.lastLogin.UserAgent)
	assert.NotEmpty(t, service.lastLogin.IP)
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{err: appErrors.ErrInvalidCredentials})

	c, rec := testContext(t, http.MethodPost, "/auth/login",
		`{"email":"etudiant@univ.fr","password":"wrong"}`)

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "AUTH_003", env.Error.Code)
}

func TestAuthHandlerLoginRejectsBadJSON(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{})

	c, rec := testContext(t, http.MethodPost, "/auth/login", `{"email":`)

	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerLogout(t *testing.T) {
	service := &fakeAuthSrv{}
	h := NewAuthHandler(service)

	c, rec := authedContext(t, http.MethodPost, "/auth/logout",
		`{"refresh_token":"rt-1"}`, models.RoleStudent)

	h.Logout(c)
	// c.Status alone does not reach the recorder outside the engine
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "rt-1", service.lastLogout.token)
	assert.Equal(t, "user-1", service.lastLogout.userID)
}

func TestAuthHandlerLogoutRequiresAuth(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{})

	c, rec := testContext(t, http.MethodPost, "/auth/logout", `{"refresh_token":"rt-1"}`)

	h.Logout(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{})

	c, rec := authedContext(t, http.MethodGet, "/auth/me", "", models.RoleAdmin)

	h.Me(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user-1")
	assert.Contains(t, rec.Body.String(), "ADMIN")
}
