package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[string]*models.User{}}
}

func (m *memoryUsers) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return common.ErrDuplicate
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			return u, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memoryUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, common.ErrNotFound
}

func testIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer("test-secret", 0)
	require.NoError(t, err)
	return issuer
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse battery staple"))
	assert.False(t, CheckPassword(hash, "correct horse"))

	// passwords longer than bcrypt's 72 byte window still differ
	long := strings.Repeat("a", 80)
	longHash, err := HashPassword(long + "1")
	require.NoError(t, err)
	assert.False(t, CheckPassword(longHash, long+"2"))
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := testIssuer(t)
	user := &models.User{ID: uuid.NewString(), Email: "a@b.in"}

	token, err := issuer.GenerateToken(user)
	require.NoError(t, err)

	claims, err := issuer.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "a@b.in", claims.Email)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := testIssuer(t)
	user := &models.User{ID: uuid.NewString(), Email: "a@b.in"}

	t.Run("expired", func(t *testing.T) {
		old := testIssuer(t)
		old.now = func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }
		token, err := old.GenerateToken(user)
		require.NoError(t, err)
		_, err = issuer.ParseToken(token)
		assert.ErrorIs(t, err, common.ErrUnauthorized)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewTokenIssuer("another-secret", 0)
		require.NoError(t, err)
		token, err := other.GenerateToken(user)
		require.NoError(t, err)
		_, err = issuer.ParseToken(token)
		assert.ErrorIs(t, err, common.ErrUnauthorized)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: user.ID})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.ParseToken(signed)
		assert.ErrorIs(t, err, common.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.ParseToken("not.a.token")
		assert.ErrorIs(t, err, common.ErrUnauthorized)
	})
}

func TestNewTokenIssuer_EmptySecret(t *testing.T) {
	_, err := NewTokenIssuer("", time.Hour)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestMiddleware(t *testing.T) {
	issuer := testIssuer(t)
	token, err := issuer.GenerateToken(&models.User{ID: "user-1", Email: "a@b.in"})
	require.NoError(t, err)

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("user=" + UserID(r.Context())))
	})

	tests := []struct {
		name     string
		required bool
		path     string
		header   string
		status   int
		body     string
	}{
		{"required without token", true, "/api/ledger/entries", "", http.StatusUnauthorized, ""},
		{"required public path", true, "/api/auth/login", "", http.StatusOK, "user="},
		{"required valid token", true, "/api/ledger/entries", "Bearer " + token, http.StatusOK, "user=user-1"},
		{"optional anonymous", false, "/api/ledger/entries", "", http.StatusOK, "user="},
		{"optional valid token", false, "/api/ledger/entries", "bearer " + token, http.StatusOK, "user=user-1"},
		{"optional bad token", false, "/api/ledger/entries", "Bearer nope", http.StatusUnauthorized, ""},
		{"wrong scheme", true, "/api/ledger/entries", "Basic abc", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Middleware(issuer, tt.required, "/api/auth/login", "/api/auth/register")(echo)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestService_RegisterLoginMe(t *testing.T) {
	issuer := testIssuer(t)
	svc := NewService(newMemoryUsers(), issuer, nil)

	rec := httptest.NewRecorder()
	svc.RegisterHandler(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"Priya@Example.com","password":"s3cret-pass","name":"Priya"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var registered TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.Equal(t, "bearer", registered.TokenType)
	assert.NotEmpty(t, registered.Token)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = httptest.NewRecorder()
	svc.RegisterHandler(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"priya@example.com","password":"another-pass"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	svc.LoginHandler(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"priya@example.com","password":"wrong-pass"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	svc.LoginHandler(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"priya@example.com","password":"s3cret-pass"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var loggedIn TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loggedIn))

	me := Middleware(issuer, true)(http.HandlerFunc(svc.MeHandler))
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+loggedIn.Token)
	rec = httptest.NewRecorder()
	me.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"priya@example.com"`)
}

func TestService_Validation(t *testing.T) {
	svc := NewService(newMemoryUsers(), testIssuer(t), nil)

	bodies := []string{
		`{"email":"not-an-email","password":"longenough"}`,
		`{"email":"a@b.in","password":"short"}`,
		`{"email":"a@b.in"`,
	}
	for _, body := range bodies {
		rec := httptest.NewRecorder()
		svc.RegisterHandler(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := httptest.NewRecorder()
	svc.LoginHandler(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"nobody@example.com","password":"whatever"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
