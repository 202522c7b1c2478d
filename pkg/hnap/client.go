package hnap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Namespace and ActionBaseURL are the HNAP1 identifiers the device expects.
// ActionBaseURL is part of every per-call token.
const (
	Namespace     = "http://purenetworks.com/HNAP1/"
	ActionBaseURL = "http://purenetworks.com/HNAP1/"
)

// Actions used by the client itself.
const (
	ActionLogin                = "Login"
	ActionGetDeviceSettings    = "GetDeviceSettings"
	ActionGetModuleSOAPActions = "GetModuleSOAPActions"
)

// DefaultUsername is the account name every HNAP device ships with.
const DefaultUsername = "Admin"

// Outcome labels passed to the call recorder.
const (
	OutcomeOK        = "ok"
	OutcomeNonSOAP   = "non_soap"
	OutcomeRetried   = "retried"
	OutcomeError     = "error"
	OutcomeAuthError = "auth_error"
)

// Transport performs one remote call. Session-invalidation failures must be
// reported as *TransportError or *MalformedResponseError.
type Transport interface {
	Invoke(ctx context.Context, action string, params Params, headers Headers) (*Response, error)
}

// Credentials identify the device account.
type Credentials struct {
	Address  string
	Username string
	Password string
}

// State is the session state of a Client.
type State int

const (
	StateLoggedOut State = iota
	StateLoggingIn
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateLoggingIn:
		return "logging_in"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// NonSOAPPolicy decides what Call does with a plain, non-SOAP document.
type NonSOAPPolicy int

const (
	// NonSOAPAccept returns the document as-is without retrying.
	NonSOAPAccept NonSOAPPolicy = iota
	// NonSOAPReauthenticate treats the document as an expired session.
	NonSOAPReauthenticate
	// NonSOAPReject fails the call with a MalformedResponseError.
	NonSOAPReject
)

// ParseNonSOAPPolicy maps "accept", "reauthenticate" and "reject".
func ParseNonSOAPPolicy(s string) (NonSOAPPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "accept":
		return NonSOAPAccept, nil
	case "reauthenticate", "relogin":
		return NonSOAPReauthenticate, nil
	case "reject":
		return NonSOAPReject, nil
	default:
		return 0, fmt.Errorf("unknown non-SOAP policy %q", s)
	}
}

// CallRecordFunc is an optional callback invoked once per Call.
type CallRecordFunc func(action, outcome string)

// LoginRecordFunc is an optional callback invoked once per handshake.
type LoginRecordFunc func(success bool)

// ReauthRecordFunc is an optional callback invoked when a call triggers a
// new handshake.
type ReauthRecordFunc func(action string)

// Client is an HNAP session. Its operations are serialized.
type Client struct {
	transport Transport
	creds     Credentials
	actionURL string
	policy    NonSOAPPolicy
	now       func() time.Time
	logger    *zap.Logger

	onCall   CallRecordFunc
	onLogin  LoginRecordFunc
	onReauth ReauthRecordFunc

	// guarded by mu
	mu      sync.Mutex
	state   State
	secrets *SessionSecrets
	actions []string // nil until discovered
	modules map[int][]string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		c.logger = logger
		return nil
	}
}

// WithClock replaces time.Now for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		c.now = now
		return nil
	}
}

// WithActionURL overrides ActionBaseURL in token derivation. It must match
// the device exactly.
func WithActionURL(u string) Option {
	return func(c *Client) error {
		if u == "" {
			return errors.New("empty action URL")
		}
		c.actionURL = u
		return nil
	}
}

// WithNonSOAPPolicy sets how plain documents are handled by Call.
func WithNonSOAPPolicy(p NonSOAPPolicy) Option {
	return func(c *Client) error {
		c.policy = p
		return nil
	}
}

// WithCallRecord configures the per-call metrics callback.
func WithCallRecord(fn CallRecordFunc) Option {
	return func(c *Client) error {
		c.onCall = fn
		return nil
	}
}

// WithLoginRecord configures the handshake metrics callback.
func WithLoginRecord(fn LoginRecordFunc) Option {
	return func(c *Client) error {
		c.onLogin = fn
		return nil
	}
}

// WithReauthRecord configures the re-authentication metrics callback.
func WithReauthRecord(fn ReauthRecordFunc) Option {
	return func(c *Client) error {
		c.onReauth = fn
		return nil
	}
}

// New creates a logged-out Client. No I/O happens until the first call.
func New(transport Transport, creds Credentials, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, errors.New("hnap: nil transport")
	}
	if creds.Username == "" {
		creds.Username = DefaultUsername
	}
	c := &Client{
		transport: transport,
		creds:     creds,
		actionURL: ActionBaseURL,
		now:       time.Now,
		logger:    zap.NewNop(),
		modules:   make(map[int][]string),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, fmt.Errorf("hnap: %w", err)
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(transport Transport, creds Credentials, opts ...Option) *Client {
	c, err := New(transport, creds, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the device address the client was created for.
func (c *Client) Address() string { return c.creds.Address }

// Login runs the challenge-response handshake, replacing any session.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

// Logout forgets the session locally. The next call logs in again.
func (c *Client) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
}

// Call invokes action, logging in first when no session exists. When the
// attempt fails in a way an expired session produces, Call logs in again
// and retries exactly once; the retry's outcome is returned as-is.
func (c *Client) Call(ctx context.Context, action string, params Params) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call(ctx, action, params)
}

// DeviceActions returns the actions advertised by GetDeviceSettings. The
// list is cached until the next handshake.
func (c *Client) DeviceActions(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.secrets == nil {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}
	if c.actions != nil {
		return slices.Clone(c.actions), nil
	}

	resp, err := c.call(ctx, ActionGetDeviceSettings, nil)
	if err != nil {
		return nil, err
	}
	actions, err := decodeDeviceActions(resp)
	if err != nil {
		return nil, err
	}
	c.actions = actions
	return slices.Clone(actions), nil
}

// ModuleActions returns the actions module moduleID supports, cached until
// the next handshake.
func (c *Client) ModuleActions(ctx context.Context, moduleID int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.modules[moduleID]; ok && c.secrets != nil {
		return slices.Clone(cached), nil
	}

	resp, err := c.call(ctx, ActionGetModuleSOAPActions, Params{
		{Name: "ModuleID", Value: strconv.Itoa(moduleID)},
	})
	if err != nil {
		return nil, err
	}
	actions, err := decodeModuleActions(resp)
	if err != nil {
		return nil, err
	}
	c.modules[moduleID] = actions
	return slices.Clone(actions), nil
}

// SupportsModuleAction reports whether module moduleID lists action.
func (c *Client) SupportsModuleAction(ctx context.Context, moduleID int, action string) (bool, error) {
	actions, err := c.ModuleActions(ctx, moduleID)
	if err != nil {
		return false, err
	}
	return slices.Contains(actions, action), nil
}

// login runs the handshake. Callers hold mu.
func (c *Client) login(ctx context.Context) error {
	c.invalidate()
	c.state = StateLoggingIn

	err := c.handshake(ctx)
	if c.onLogin != nil {
		c.onLogin(err == nil)
	}
	if err != nil {
		c.invalidate()
		return err
	}
	c.state = StateAuthenticated
	c.logger.Info("hnap: logged in",
		zap.String("address", c.creds.Address),
		zap.Int("actions", len(c.actions)),
	)
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	resp, err := c.invoke(ctx, ActionLogin, Params{
		{Name: "Action", Value: "request"},
		{Name: "Username", Value: c.creds.Username},
		{Name: "LoginPassword", Value: ""},
		{Name: "Captcha", Value: ""},
	})
	if err != nil {
		return loginError(err)
	}
	ch, err := decodeLoginChallenge(resp)
	if err != nil {
		return loginError(err)
	}
	c.logger.Debug("hnap: login challenge",
		zap.String("challenge", ch.Challenge),
		zap.String("public_key", ch.PublicKey),
	)

	privateKey := PrivateKey(ch.PublicKey, c.creds.Password, ch.Challenge)
	c.secrets = &SessionSecrets{Cookie: ch.Cookie, PrivateKey: privateKey}
	c.logger.Debug("hnap: derived private key", zap.String("private_key", redact(privateKey)))

	resp, err = c.invoke(ctx, ActionLogin, Params{
		{Name: "Action", Value: "login"},
		{Name: "Username", Value: c.creds.Username},
		{Name: "LoginPassword", Value: LoginPassword(privateKey, ch.Challenge)},
		{Name: "Captcha", Value: ""},
	})
	if err != nil {
		return loginError(err)
	}
	result, err := decodeLoginResult(resp)
	if err != nil {
		return loginError(err)
	}
	if !strings.EqualFold(result, "success") {
		return &AuthenticationError{Err: ErrInvalidCredentials}
	}

	if c.actions == nil {
		resp, err := c.invoke(ctx, ActionGetDeviceSettings, nil)
		if err != nil {
			return fmt.Errorf("discover device actions: %w", err)
		}
		actions, err := decodeDeviceActions(resp)
		if err != nil {
			return fmt.Errorf("discover device actions: %w", err)
		}
		c.actions = actions
	}
	return nil
}

// loginError maps decode failures during the handshake to
// AuthenticationError. Transport failures stay as they are so callers can
// tell an unreachable device from a rejected password.
func loginError(err error) error {
	var me *MalformedResponseError
	if errors.As(err, &me) {
		return &AuthenticationError{Err: ErrBadResponse, Cause: err}
	}
	return fmt.Errorf("login: %w", err)
}

// call is Call without locking.
func (c *Client) call(ctx context.Context, action string, params Params) (*Response, error) {
	if c.secrets == nil && action != ActionLogin {
		if err := c.login(ctx); err != nil {
			c.record(action, OutcomeAuthError)
			return nil, err
		}
	}

	resp, err := c.invoke(ctx, action, params)
	retry, err := c.classify(ctx, action, resp, err)
	if !retry {
		if err != nil {
			c.record(action, OutcomeError)
			return nil, err
		}
		if !resp.SOAP {
			c.record(action, OutcomeNonSOAP)
		} else {
			c.record(action, OutcomeOK)
		}
		return resp, nil
	}

	c.logger.Debug("hnap: got logged out, logging in again",
		zap.String("action", action),
		zap.Error(err),
	)
	if c.onReauth != nil {
		c.onReauth(action)
	}
	if err := c.login(ctx); err != nil {
		c.record(action, OutcomeAuthError)
		return nil, err
	}

	resp, err = c.invoke(ctx, action, params)
	if err == nil && !resp.SOAP && c.policy == NonSOAPReject {
		err = &MalformedResponseError{Action: action, Reason: "not a SOAP response"}
	}
	if err != nil {
		c.record(action, OutcomeError)
		return nil, err
	}
	c.record(action, OutcomeRetried)
	return resp, nil
}

// classify decides whether the first attempt of a call should be retried
// after a new handshake, returning the error to surface when it is not.
func (c *Client) classify(ctx context.Context, action string, resp *Response, err error) (bool, error) {
	if err != nil {
		if ctx.Err() != nil || action == ActionLogin || !isSessionSignal(err) {
			return false, err
		}
		return true, err
	}
	if resp.SOAP {
		return false, nil
	}
	switch c.policy {
	case NonSOAPReauthenticate:
		if action == ActionLogin {
			return false, nil
		}
		return true, &MalformedResponseError{Action: action, Reason: "not a SOAP response"}
	case NonSOAPReject:
		return false, &MalformedResponseError{Action: action, Reason: "not a SOAP response"}
	default:
		return false, nil
	}
}

// invoke signs and sends one request without any retry.
func (c *Client) invoke(ctx context.Context, action string, params Params) (*Response, error) {
	headers := Headers{}
	if auth, err := c.perCallAuth(action); err == nil {
		headers["Cookie"] = "uid=" + c.secrets.Cookie
		headers["HNAP_AUTH"] = auth.Header()
		c.logger.Debug("hnap: signed request",
			zap.String("action", action),
			zap.Int64("timestamp", auth.Timestamp),
		)
	}
	resp, err := c.transport.Invoke(ctx, action, params, headers)
	if err == nil && resp == nil {
		return nil, &MalformedResponseError{Action: action, Reason: "empty response"}
	}
	return resp, err
}

func (c *Client) perCallAuth(action string) (PerCallAuth, error) {
	if c.secrets == nil {
		return PerCallAuth{}, ErrNotAuthenticated
	}
	return NewPerCallAuth(c.secrets.PrivateKey, c.actionURL, action, c.now()), nil
}

// invalidate drops the session and everything derived from it.
func (c *Client) invalidate() {
	c.state = StateLoggedOut
	c.secrets = nil
	c.actions = nil
	clear(c.modules)
}

func (c *Client) record(action, outcome string) {
	if c.onCall != nil {
		c.onCall(action, outcome)
	}
}
