package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"lost-found-portal/pkg/flags"
	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/middleware"
	"lost-found-portal/pkg/models"
)

type envelope struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    accountPayload `json:"data"`
}

// Client talks to the identity provider over HTTP and keeps the signed-in
// account for one browsing context. The bearer token is saved under
// flags.KeySession so a restart, or another context of the same origin,
// picks the session up again.
type Client struct {
	baseURL string
	http    *http.Client
	flags   flags.Store
	sealer  TokenSealer
	log     *zap.Logger

	mu        sync.Mutex
	current   *models.Identity
	ready     bool
	gen       uint64
	listeners map[int]*mailbox
	nextID    int

	stopWatch func()
}

// TokenSealer protects the saved token while it sits in shared storage.
type TokenSealer interface {
	Seal(token string) (string, error)
	Open(sealed string) (string, error)
}

type ClientOption func(*Client)

func WithTokenSealer(s TokenSealer) ClientOption {
	return func(c *Client) { c.sealer = s }
}

func NewClient(baseURL string, store flags.Store, log *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		flags:     store,
		log:       logger.OrNop(log),
		listeners: make(map[int]*mailbox),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start restores any saved session in the background and begins following
// session writes from other contexts. Listeners get the restored state as
// their first notification.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	saved, ok := c.flags.Get(flags.KeySession)
	if !ok || saved == "" {
		c.publish(gen, nil)
	} else {
		go c.restore(ctx, gen, saved)
	}

	c.stopWatch = c.flags.Watch(func(ch flags.Change) {
		if ch.Key != flags.KeySession {
			return
		}
		c.mu.Lock()
		c.gen++
		gen := c.gen
		c.mu.Unlock()

		if ch.Deleted || ch.Value == "" {
			c.publish(gen, nil)
			return
		}
		go c.restore(ctx, gen, ch.Value)
	})
}

func (c *Client) Close() {
	if c.stopWatch != nil {
		c.stopWatch()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, mb := range c.listeners {
		mb.close()
		delete(c.listeners, id)
	}
}

func (c *Client) restore(ctx context.Context, gen uint64, saved string) {
	token, err := c.openToken(saved)
	if err != nil {
		c.log.Warn("saved session unreadable", zap.Error(err))
		c.publish(gen, nil)
		return
	}
	env, err := c.do(ctx, http.MethodGet, "/api/auth/me", token, nil)
	if err != nil {
		c.log.Warn("saved session rejected", zap.Error(err))
		c.publish(gen, nil)
		return
	}
	c.publish(gen, &models.Identity{UserID: env.Data.ID, Email: env.Data.Email})
}

// publish sets the current identity unless a newer change superseded gen.
func (c *Client) publish(gen uint64, id *models.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.current = id
	c.ready = true
	for _, mb := range c.listeners {
		mb.push(id)
	}
}

// advance publishes id as the newest state.
func (c *Client) advance(id *models.Identity) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.publish(gen, id)
}

func (c *Client) OnSessionChange(fn func(*models.Identity)) func() {
	mb := newMailbox(fn)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = mb
	if c.ready {
		mb.push(c.current)
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
			mb.close()
		})
	}
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", Credentials{Email: email, Password: password})
	if err != nil {
		return nil, invalidCredentials(err)
	}
	return c.signedIn(env)
}

// SignUp creates the account. Like most hosted providers, a successful
// sign-up also signs the new account in.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*models.Identity, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/auth/register", "", req)
	if err != nil {
		msg := "Sign up failed."
		var re *remoteError
		if errors.As(err, &re) && re.Message != "" {
			msg = re.Message
		}
		return nil, &AuthError{Op: "sign up", Message: msg, Err: err}
	}
	return c.signedIn(env)
}

func (c *Client) openToken(saved string) (string, error) {
	if c.sealer == nil {
		return saved, nil
	}
	return c.sealer.Open(saved)
}

func (c *Client) sealToken(token string) (string, error) {
	if c.sealer == nil {
		return token, nil
	}
	return c.sealer.Seal(token)
}

func (c *Client) signedIn(env envelope) (*models.Identity, error) {
	saved, err := c.sealToken(env.Data.Token)
	if err == nil {
		err = c.flags.Set(flags.KeySession, saved)
	}
	if err != nil {
		c.log.Warn("failed to save session", zap.Error(err))
	}
	id := &models.Identity{UserID: env.Data.ID, Email: env.Data.Email}
	c.advance(id)
	cp := *id
	return &cp, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	if err := c.flags.Delete(flags.KeySession); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	c.advance(nil)
	return nil
}

type remoteError struct {
	Status  int
	Message string
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("identity provider: %d %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path, token string, body interface{}) (envelope, error) {
	var env envelope
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return env, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return env, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	middleware.PropagateTraceID(req, middleware.TraceIDFrom(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		return env, err
	}
	defer resp.Body.Close()

	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode >= 300 {
		return envelope{}, &remoteError{Status: resp.StatusCode, Message: env.Message}
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("decode response: %w", decodeErr)
	}
	return env, nil
}
