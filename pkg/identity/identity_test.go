package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"lost-found-portal/pkg/flags"
	"lost-found-portal/pkg/models"
	"lost-found-portal/pkg/security"
)

func newTestService() *Service {
	svc := NewService(NewMemoryUsers(), NewTokens("test-secret", time.Hour), nil)
	svc.cost = bcrypt.MinCost
	return svc
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(newTestService(), nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestServiceRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	sess, err := svc.Register(ctx, SignUpRequest{Email: "ana@example.com", Password: "password1", FirstName: " Ana "})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.User.ID)
	assert.Equal(t, "Ana", sess.User.FirstName)
	assert.NotEqual(t, "password1", sess.User.Password)

	id, err := svc.Tokens().ParseIdentity(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: sess.User.ID, Email: "ana@example.com"}, id)

	logged, err := svc.Login(ctx, "ana@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, logged.User.ID)

	me, err := svc.Me(ctx, logged.User.Identity())
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", me.Email)
}

func TestServiceEmailIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	sess, err := svc.Register(ctx, SignUpRequest{Email: " Ana@Example.COM ", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", sess.User.Email)

	logged, err := svc.Login(ctx, "ANA@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, logged.User.ID)
}

func TestServiceLoginFailuresLookAlike(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	_, err := svc.Register(ctx, SignUpRequest{Email: "ana@example.com", Password: "password1"})
	require.NoError(t, err)

	for _, tc := range []struct{ email, password string }{
		{"ana@example.com", "wrong-password"},
		{"nobody@example.com", "password1"},
	} {
		_, err := svc.Login(ctx, tc.email, tc.password)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, MsgInvalidCredentials, authErr.Message)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
}

func TestServiceRegisterRejects(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	_, err := svc.Register(ctx, SignUpRequest{Email: "ana@example.com", Password: "password1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  SignUpRequest
		want error
		msg  string
	}{
		{"duplicate email", SignUpRequest{Email: "ANA@example.com", Password: "password1"}, ErrEmailTaken, "Email already registered"},
		{"short password", SignUpRequest{Email: "bo@example.com", Password: "short"}, ErrInvalidInput, "Password must be at least 8 characters"},
		{"bad email", SignUpRequest{Email: "bo@", Password: "password1"}, ErrInvalidInput, "Invalid email format"},
		{"missing fields", SignUpRequest{}, ErrInvalidInput, "Email and Password are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.msg, authErr.Message)
		})
	}
}

func TestTokensExpire(t *testing.T) {
	tokens := NewTokens("s", time.Minute)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return start }

	tok, err := tokens.Issue(models.Identity{UserID: "u1", Email: "a@b.co"})
	require.NoError(t, err)
	_, err = tokens.Parse(tok)
	require.NoError(t, err)

	tokens.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = tokens.Parse(tok)
	assert.Error(t, err)

	_, err = NewTokens("other", time.Minute).Parse(tok)
	assert.Error(t, err, "foreign signature")
}

// recorder collects session notifications.
type recorder chan *models.Identity

func (r recorder) listen(id *models.Identity) { r <- id }

func (r recorder) next(t *testing.T) *models.Identity {
	t.Helper()
	select {
	case id := <-r:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no session notification")
		return nil
	}
}

func TestClientSignUpSignsIn(t *testing.T) {
	srv := newTestServer(t)
	tab := flags.NewOrigin().OpenTab()
	client := NewClient(srv.URL, tab, nil)
	client.Start(context.Background())
	defer client.Close()

	rec := make(recorder, 8)
	client.OnSessionChange(rec.listen)
	assert.Nil(t, rec.next(t), "no saved session")

	id, err := client.SignUp(context.Background(), SignUpRequest{Email: "ana@example.com", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", id.Email)

	got := rec.next(t)
	require.NotNil(t, got)
	assert.Equal(t, *id, *got)
	token, ok := tab.Get(flags.KeySession)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	require.NoError(t, client.SignOut(context.Background()))
	assert.Nil(t, rec.next(t))
	_, ok = tab.Get(flags.KeySession)
	assert.False(t, ok)
}

func TestClientErrors(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL, flags.NewOrigin().OpenTab(), nil)
	client.Start(context.Background())
	defer client.Close()
	ctx := context.Background()

	_, err := client.SignIn(ctx, "nobody@example.com", "password1")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, MsgInvalidCredentials, authErr.Message)

	_, err = client.SignUp(ctx, SignUpRequest{Email: "ana@example.com", Password: "password1"})
	require.NoError(t, err)
	_, err = client.SignUp(ctx, SignUpRequest{Email: "ana@example.com", Password: "password1"})
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "Email already registered", authErr.Message)
}

func TestClientRestoresAndFollowsOtherContexts(t *testing.T) {
	srv := newTestServer(t)
	origin := flags.NewOrigin()
	ctx := context.Background()

	first := NewClient(srv.URL, origin.OpenTab(), nil)
	first.Start(ctx)
	defer first.Close()
	second := NewClient(srv.URL, origin.OpenTab(), nil)
	second.Start(ctx)
	defer second.Close()

	rec := make(recorder, 8)
	second.OnSessionChange(rec.listen)
	assert.Nil(t, rec.next(t))

	id, err := first.SignUp(ctx, SignUpRequest{Email: "ana@example.com", Password: "password1"})
	require.NoError(t, err)
	got := rec.next(t)
	require.NotNil(t, got)
	assert.Equal(t, id.UserID, got.UserID)

	// A fresh context restores the saved session at start-up.
	third := NewClient(srv.URL, origin.OpenTab(), nil)
	third.Start(ctx)
	defer third.Close()
	restored := make(recorder, 8)
	third.OnSessionChange(restored.listen)
	got = restored.next(t)
	require.NotNil(t, got)
	assert.Equal(t, id.UserID, got.UserID)

	require.NoError(t, first.SignOut(ctx))
	assert.Nil(t, rec.next(t))
	assert.Nil(t, restored.next(t))
}

func TestClientDropsRejectedSavedSession(t *testing.T) {
	srv := newTestServer(t)
	tab := flags.NewOrigin().OpenTab()
	require.NoError(t, tab.Set(flags.KeySession, "not-a-token"))

	client := NewClient(srv.URL, tab, nil)
	client.Start(context.Background())
	defer client.Close()

	rec := make(recorder, 2)
	client.OnSessionChange(rec.listen)
	assert.Nil(t, rec.next(t))
}

func TestHandlerStatusCodes(t *testing.T) {
	srv := newTestServer(t)

	post := func(path string, body interface{}) (int, envelope) {
		t.Helper()
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		resp, err := http.Post(srv.URL+path, "application/json", &buf)
		require.NoError(t, err)
		defer resp.Body.Close()
		var env envelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		return resp.StatusCode, env
	}

	code, env := post("/api/auth/register", SignUpRequest{Email: "ana@example.com", Password: "password1", Username: "ana"})
	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, env.Data.Token)
	assert.Equal(t, "ana", env.Data.Username)
	token := env.Data.Token

	code, env = post("/api/auth/register", SignUpRequest{Email: "ana@example.com", Password: "password1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Email already registered", env.Message)

	code, _ = post("/api/auth/register", SignUpRequest{Email: "bo@example.com", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = post("/api/auth/login", Credentials{Email: "ana@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, MsgInvalidCredentials, env.Message)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var me envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "ana@example.com", me.Data.Email)
	assert.Empty(t, me.Data.Token)
}

func TestClientSealsSavedToken(t *testing.T) {
	srv := newTestServer(t)
	origin := flags.NewOrigin()
	ctx := context.Background()

	key, err := security.KeyFromConfig("", "test-secret")
	require.NoError(t, err)
	sealer, err := security.NewSealer(key)
	require.NoError(t, err)

	tab := origin.OpenTab()
	first := NewClient(srv.URL, tab, nil, WithTokenSealer(sealer))
	first.Start(ctx)
	defer first.Close()

	_, err = first.SignUp(ctx, SignUpRequest{Email: "sealed@example.com", Password: "password1"})
	require.NoError(t, err)

	saved, ok := tab.Get(flags.KeySession)
	require.True(t, ok)
	_, err = newTestService().Tokens().Parse(saved)
	assert.Error(t, err, "saved value must not be a usable token")

	second := NewClient(srv.URL, origin.OpenTab(), nil, WithTokenSealer(sealer))
	second.Start(ctx)
	defer second.Close()
	rec := make(recorder, 4)
	second.OnSessionChange(rec.listen)
	got := rec.next(t)
	require.NotNil(t, got)
	assert.Equal(t, "sealed@example.com", got.Email)

	// Without the key the saved value cannot be restored.
	blind := NewClient(srv.URL, origin.OpenTab(), nil)
	blind.Start(ctx)
	defer blind.Close()
	none := make(recorder, 4)
	blind.OnSessionChange(none.listen)
	assert.Nil(t, none.next(t))
}
