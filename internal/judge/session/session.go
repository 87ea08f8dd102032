package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"ojkit/internal/common/ratelimit"
	"ojkit/internal/common/retry"
	"ojkit/internal/judge/model"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/contextkey"
	"ojkit/pkg/utils/logger"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
)

const (
	DefaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 32 << 20
)

// Options configures how sessions talk to judges.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	Retry        retry.Policy
	// Transport replaces the default transport, mainly for tests.
	Transport http.RoundTripper
	// NewLimiter builds the spacing limiter for one judge. Defaults to a process-local limiter.
	NewLimiter func(judge model.Judge, interval time.Duration) ratelimit.Limiter
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	o.Retry = o.Retry.Normalize()
	if o.NewLimiter == nil {
		o.NewLimiter = func(_ model.Judge, interval time.Duration) ratelimit.Limiter {
			return ratelimit.NewLocal(interval)
		}
	}
	return o
}

// Session is the authenticated state for one judge. Requests that may mutate cookies are
// serialized through Do and Login; cookie reads may happen concurrently.
type Session struct {
	site    Site
	base    *url.URL
	client  *http.Client
	jar     *resettableJar
	limiter ratelimit.Limiter
	opts    Options

	// mu serializes login and managed requests.
	mu    sync.Mutex
	state atomic.Int32

	hdrMu    sync.RWMutex
	referer  string
	csrf     string
	headers  http.Header
	creds    model.Credentials
	hasCreds bool
}

// New creates a logged out session for site.
func New(site Site, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	base, err := url.Parse(site.BaseURL())
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, pkgerrors.Newf(pkgerrors.InvalidParams, "invalid base url %q", site.BaseURL()).
			WithDetail(pkgerrors.DetailJudge, string(site.Judge()))
	}
	jar, err := newJar()
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.InternalError)
	}

	transport := opts.Transport
	if transport == nil {
		transport = gzhttp.Transport(http.DefaultTransport.(*http.Transport).Clone())
	}
	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   opts.Timeout,
		// Redirects are returned as-is; a redirect to the login page is how most judges say
		// the session is gone.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	s := &Session{
		site:    site,
		base:    base,
		client:  client,
		jar:     jar,
		limiter: opts.NewLimiter(site.Judge(), site.MinInterval()),
		opts:    opts,
		headers: make(http.Header),
	}
	s.state.Store(int32(model.StateLoggedOut))
	return s, nil
}

// Judge returns the judge this session talks to.
func (s *Session) Judge() model.Judge { return s.site.Judge() }

// BaseURL returns the judge's base URL.
func (s *Session) BaseURL() *url.URL {
	u := *s.base
	return &u
}

// State returns the current login state.
func (s *Session) State() model.SessionState {
	return model.SessionState(s.state.Load())
}

func (s *Session) setState(ctx context.Context, st model.SessionState) {
	prev := model.SessionState(s.state.Swap(int32(st)))
	if prev != st {
		logger.Debug(ctx, "session state changed",
			zap.String("from", prev.String()),
			zap.String("to", st.String()),
		)
	}
}

// CSRFToken returns the token most recently stored by the adapter.
func (s *Session) CSRFToken() string {
	s.hdrMu.RLock()
	defer s.hdrMu.RUnlock()
	return s.csrf
}

// SetCSRFToken stores a token scraped from a page.
func (s *Session) SetCSRFToken(token string) {
	s.hdrMu.Lock()
	s.csrf = token
	s.hdrMu.Unlock()
}

// SetDefaultHeader adds a header sent with every request, e.g. an API bearer token.
// An empty value removes it.
func (s *Session) SetDefaultHeader(key, value string) {
	s.hdrMu.Lock()
	defer s.hdrMu.Unlock()
	if value == "" {
		s.headers.Del(key)
		return
	}
	s.headers.Set(key, value)
}

// SetCredentials stores credentials for a later lazy login without logging in now.
func (s *Session) SetCredentials(creds model.Credentials) {
	s.hdrMu.Lock()
	s.creds = creds
	s.hasCreds = !creds.Empty()
	s.hdrMu.Unlock()
}

func (s *Session) credentials() (model.Credentials, bool) {
	s.hdrMu.RLock()
	defer s.hdrMu.RUnlock()
	return s.creds, s.hasCreds
}

// Cookies returns the cookies that would be sent to the judge's base URL.
func (s *Session) Cookies() []*http.Cookie {
	return s.jar.Cookies(s.base)
}

// SetCookies loads cookies, typically exported by an earlier run.
func (s *Session) SetCookies(cookies []*http.Cookie) {
	s.jar.SetCookies(s.base, cookies)
}

// URL resolves path against the base URL.
func (s *Session) URL(path string) string {
	u, err := Request{Path: path}.resolve(s.base)
	if err != nil {
		return path
	}
	return u.String()
}

func (s *Session) withJudge(ctx context.Context) context.Context {
	if ctx.Value(contextkey.Judge) != nil {
		return ctx
	}
	return context.WithValue(ctx, contextkey.Judge, string(s.Judge()))
}

// Login authenticates with creds. Bad credentials leave the session logged out; a challenge
// page moves it to ChallengeRequired, which only Reset leaves.
func (s *Session) Login(ctx context.Context, creds model.Credentials) error {
	ctx = s.withJudge(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx, creds)
}

func (s *Session) loginLocked(ctx context.Context, creds model.Credentials) error {
	if s.State() == model.StateChallengeRequired {
		return s.challengeError("")
	}
	if creds.Empty() {
		return pkgerrors.New(pkgerrors.CredentialsMissing).WithDetail(pkgerrors.DetailJudge, string(s.Judge()))
	}

	s.setState(ctx, model.StateLoggingIn)
	phaseCtx := context.WithValue(ctx, contextkey.Phase, "login")
	err := s.site.Authenticate(phaseCtx, s, creds)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.ChallengeRequired) {
			s.setState(ctx, model.StateChallengeRequired)
		} else {
			s.setState(ctx, model.StateLoggedOut)
		}
		if pkgerrors.Is(err, pkgerrors.InvalidCredentials) {
			s.SetCredentials(model.Credentials{})
		}
		e := pkgerrors.GetError(err)
		e.WithDefaultDetail(pkgerrors.DetailJudge, string(s.Judge()))
		e.WithDefaultDetail(pkgerrors.DetailPhase, "login")
		logger.Warn(ctx, "login failed", logger.ErrorFields(e)...)
		return e
	}

	s.SetCredentials(creds)
	s.setState(ctx, model.StateLoggedIn)
	logger.Info(ctx, "logged in", zap.String("user", creds.Username))
	return nil
}

// EnsureLoggedIn makes sure the session is usable for authenticated requests, logging in
// again with the stored credentials when it expired.
func (s *Session) EnsureLoggedIn(ctx context.Context) error {
	ctx = s.withJudge(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case model.StateLoggedIn:
		return nil
	case model.StateChallengeRequired:
		return s.challengeError("")
	}

	if prober, ok := s.site.(Prober); ok && len(s.Cookies()) > 0 {
		err := prober.Probe(ctx, s)
		if err == nil {
			s.setState(ctx, model.StateLoggedIn)
			return nil
		}
		if pkgerrors.Is(err, pkgerrors.ChallengeRequired) {
			s.setState(ctx, model.StateChallengeRequired)
			return err
		}
		if !pkgerrors.Is(err, pkgerrors.NotLoggedIn) && !pkgerrors.Is(err, pkgerrors.SessionExpired) {
			return err
		}
	}

	creds, ok := s.credentials()
	if !ok {
		return pkgerrors.New(pkgerrors.NotLoggedIn).WithDetail(pkgerrors.DetailJudge, string(s.Judge()))
	}
	return s.loginLocked(ctx, creds)
}

// Reset drops cookies, tokens and credentials and returns to LoggedOut.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.jar.reset(); err != nil {
		logger.Warn(ctx, "reset cookie jar failed", zap.Error(err))
	}
	s.hdrMu.Lock()
	s.referer = ""
	s.csrf = ""
	s.headers = make(http.Header)
	s.creds = model.Credentials{}
	s.hasCreds = false
	s.hdrMu.Unlock()
	s.setState(s.withJudge(ctx), model.StateLoggedOut)
}

// Do sends req as a managed request: serialized with other managed requests, and when the
// judge reports the session as no longer valid it logs in once more and repeats req exactly
// once before failing with SessionExpired.
func (s *Session) Do(ctx context.Context, req Request) (*Response, error) {
	ctx = s.withJudge(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == model.StateChallengeRequired {
		return nil, s.challengeError("")
	}

	resp, err := s.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.site.IsSessionValid(resp) {
		return resp, nil
	}

	wasLoggedIn := s.State() == model.StateLoggedIn || s.State() == model.StateExpired
	creds, ok := s.credentials()
	if !ok {
		if wasLoggedIn {
			s.setState(ctx, model.StateExpired)
			return nil, s.expiredError(req, nil)
		}
		return nil, pkgerrors.New(pkgerrors.NotLoggedIn).
			WithDetail(pkgerrors.DetailJudge, string(s.Judge())).
			WithDetail(pkgerrors.DetailURL, s.URL(req.Path))
	}

	if wasLoggedIn {
		s.setState(ctx, model.StateExpired)
		logger.Warn(ctx, "session expired, logging in again", zap.String("url", s.URL(req.Path)))
	}
	if err := s.loginLocked(ctx, creds); err != nil {
		if pkgerrors.Is(err, pkgerrors.ChallengeRequired) {
			return nil, err
		}
		return nil, s.expiredError(req, err)
	}

	resp, err = s.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if !s.site.IsSessionValid(resp) {
		s.setState(ctx, model.StateExpired)
		return nil, s.expiredError(req, nil)
	}
	return resp, nil
}

func (s *Session) expiredError(req Request, cause error) error {
	var e *pkgerrors.Error
	if cause != nil {
		e = pkgerrors.Wrapf(cause, pkgerrors.SessionExpired, "%s: %v", pkgerrors.SessionExpired.Message(), cause)
	} else {
		e = pkgerrors.New(pkgerrors.SessionExpired)
	}
	return e.WithDetail(pkgerrors.DetailJudge, string(s.Judge())).
		WithDetail(pkgerrors.DetailURL, s.URL(req.Path))
}

func (s *Session) challengeError(marker string) *pkgerrors.Error {
	return pkgerrors.Challenge(string(s.Judge()), marker)
}

// Send performs req with rate limiting and retries but without re-authentication. Adapters
// use it inside Authenticate; everything else should go through Do.
func (s *Session) Send(ctx context.Context, req Request) (*Response, error) {
	ctx = s.withJudge(ctx)
	target, err := req.resolve(s.base)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "invalid request path %q", req.Path)
	}

	resp, err := retry.DoValue(ctx, s.opts.Retry, func(ctx context.Context) (*Response, error) {
		if err := s.limiter.Wait(ctx, string(s.Judge())); err != nil {
			return nil, err
		}
		return s.roundTrip(ctx, req, target)
	})
	if err != nil {
		e := pkgerrors.GetError(err)
		e.WithDefaultDetail(pkgerrors.DetailJudge, string(s.Judge()))
		e.WithDefaultDetail(pkgerrors.DetailURL, target.String())
		if e.Code == pkgerrors.ChallengeRequired {
			s.setState(ctx, model.StateChallengeRequired)
			logger.Warn(ctx, "judge asked for a challenge",
				zap.Any("marker", e.Details[pkgerrors.DetailMarker]), zap.String("url", target.String()))
		}
		return nil, e
	}
	return resp, nil
}

func (s *Session) roundTrip(ctx context.Context, req Request, target *url.URL) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), req.bodyReader())
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request failed: %w", err))
	}

	s.hdrMu.RLock()
	for k, vs := range s.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	referer := s.referer
	s.hdrMu.RUnlock()

	httpReq.Header.Set("User-Agent", s.opts.UserAgent)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	}
	if referer != "" && !req.NoReferer {
		httpReq.Header.Set("Referer", referer)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.NetworkError, "%s %s failed: %v", method, target.Redacted(), err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, s.opts.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.NetworkError, "read response body failed: %v", err)
	}
	if int64(len(body)) > s.opts.MaxBodyBytes {
		return nil, pkgerrors.New(pkgerrors.ResponseTooLarge).WithDetail(pkgerrors.DetailURL, target.String())
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		URL:        target,
		Duration:   time.Since(start),
	}
	logger.Debug(ctx, "judge request",
		zap.String("method", method),
		zap.String("url", target.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", resp.Duration),
	)

	// interstitials are often served as 403 or 503
	if detector, ok := s.site.(ChallengeDetector); ok {
		if marker := detector.DetectChallenge(resp); marker != "" {
			return nil, retry.Permanent(s.challengeError(marker).WithDetail(pkgerrors.DetailURL, target.String()))
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, pkgerrors.New(pkgerrors.RateLimited).WithDetail(pkgerrors.DetailStatus, resp.StatusCode)
	case resp.StatusCode >= 500:
		err := pkgerrors.Newf(pkgerrors.JudgeUnavailable, "judge returned HTTP %d", resp.StatusCode).
			WithDetail(pkgerrors.DetailStatus, resp.StatusCode)
		if !idempotent(method) {
			// the judge may have acted on the request before failing
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	if method == http.MethodGet && !resp.IsRedirect() {
		s.hdrMu.Lock()
		s.referer = target.String()
		s.hdrMu.Unlock()
	}
	return resp, nil
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
