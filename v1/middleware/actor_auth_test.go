package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// captureActor returns a handler recording the actor the middleware resolved.
func captureActor(into **Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := GetActorFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		*into = actor
		w.WriteHeader(http.StatusOK)
	})
}

func TestExtractActor_HeaderMode(t *testing.T) {
	middleware := NewActorAuthMiddleware(ActorAuthConfig{})
	var actor *Actor
	handler := middleware.ExtractActor(captureActor(&actor))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/members", nil)
	req.Header.Set("X-Club-Id", "club_1")
	req.Header.Set("X-Actor-Id", "usr_1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, actor)
	assert.Equal(t, "usr_1", actor.ActorID)
	assert.Equal(t, "club_1", actor.ClubID)
}

func TestExtractActor_HeaderMode_MissingHeaders(t *testing.T) {
	middleware := NewActorAuthMiddleware(ActorAuthConfig{})
	var actor *Actor
	handler := middleware.ExtractActor(captureActor(&actor))

	// No headers at all.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Club without actor.
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Club-Id", "club_1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Actor without club.
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Actor-Id", "usr_1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, actor)
}

func TestExtractActor_TokenMode(t *testing.T) {
	middleware := NewActorAuthMiddleware(ActorAuthConfig{
		SigningSecret:  testSecret,
		ExpectedIssuer: "clubware",
	})
	var actor *Actor
	handler := middleware.ExtractActor(captureActor(&actor))

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "usr_jwt",
		"iss": "clubware",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Club-Id", "club_1")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, actor)
	assert.Equal(t, "usr_jwt", actor.ActorID)
}

func TestExtractActor_TokenMode_Rejections(t *testing.T) {
	middleware := NewActorAuthMiddleware(ActorAuthConfig{
		SigningSecret:  testSecret,
		ExpectedIssuer: "clubware",
	})
	var actor *Actor
	handler := middleware.ExtractActor(captureActor(&actor))

	serve := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-Club-Id", "club_1")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Trusted headers are ignored once a secret is configured.
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Club-Id", "club_1")
	req.Header.Set("X-Actor-Id", "usr_spoofed")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, serve(""))

	wrongKey := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "usr_jwt", "iss": "clubware", "exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusUnauthorized, serve(wrongKey))

	expired := signToken(t, testSecret, jwt.MapClaims{
		"sub": "usr_jwt", "iss": "clubware", "exp": time.Now().Add(-time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusUnauthorized, serve(expired))

	wrongIssuer := signToken(t, testSecret, jwt.MapClaims{
		"sub": "usr_jwt", "iss": "someone-else", "exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusUnauthorized, serve(wrongIssuer))

	noSubject := signToken(t, testSecret, jwt.MapClaims{
		"iss": "clubware", "exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusUnauthorized, serve(noSubject))
	assert.Nil(t, actor)
}

func TestExtractActor_TokenMode_Leeway(t *testing.T) {
	middleware := NewActorAuthMiddleware(ActorAuthConfig{
		SigningSecret: testSecret,
		Leeway:        2 * time.Minute,
	})
	var actor *Actor
	handler := middleware.ExtractActor(captureActor(&actor))

	// Expired within the leeway window still passes.
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "usr_jwt",
		"exp": time.Now().Add(-30 * time.Second).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Club-Id", "club_1")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActorAuthConfig_Validate(t *testing.T) {
	valid := []ActorAuthConfig{
		{},
		{SigningSecret: "s"},
		{SigningSecret: "s", ExpectedIssuer: "i"},
	}
	for _, c := range valid {
		assert.NoError(t, c.Validate())
	}
	invalid := ActorAuthConfig{ExpectedIssuer: "i"}
	assert.Error(t, invalid.Validate())
}
