package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ojkit/internal/judge/model"
	pkgerrors "ojkit/pkg/errors"
)

// Manager owns exactly one Session per judge for the lifetime of the process.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sites    map[model.Judge]Site
	sessions map[model.Judge]*Session
}

// NewManager creates a manager for the given sites.
func NewManager(opts Options, sites ...Site) *Manager {
	m := &Manager{
		opts:     opts,
		sites:    make(map[model.Judge]Site, len(sites)),
		sessions: make(map[model.Judge]*Session, len(sites)),
	}
	for _, site := range sites {
		m.sites[site.Judge()] = site
	}
	return m
}

// Session returns the session for judge, creating a logged out one on first use.
func (m *Manager) Session(judge model.Judge) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[judge]; ok {
		return s, nil
	}
	site, ok := m.sites[judge]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.JudgeNotFound, "no adapter registered for %s", judge).
			WithDetail(pkgerrors.DetailJudge, string(judge))
	}
	s, err := New(site, m.opts)
	if err != nil {
		return nil, err
	}
	m.sessions[judge] = s
	return s, nil
}

// Login logs in to judge and returns its session.
func (m *Manager) Login(ctx context.Context, judge model.Judge, creds model.Credentials) (*Session, error) {
	s, err := m.Session(judge)
	if err != nil {
		return nil, err
	}
	if err := s.Login(ctx, creds); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureLoggedIn returns judge's session once it is usable for authenticated requests.
func (m *Manager) EnsureLoggedIn(ctx context.Context, judge model.Judge) (*Session, error) {
	s, err := m.Session(judge)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Logout forgets everything about judge's session.
func (m *Manager) Logout(ctx context.Context, judge model.Judge) {
	m.mu.Lock()
	s, ok := m.sessions[judge]
	m.mu.Unlock()
	if ok {
		s.Reset(ctx)
	}
}

// Cookie is the exported form of a session cookie.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Expires time.Time `json:"expires,omitempty"`
}

// ExportCookies returns the cookies of judge's session for an external collaborator to
// persist. The core itself never writes them anywhere.
func (m *Manager) ExportCookies(judge model.Judge) ([]Cookie, error) {
	s, err := m.Session(judge)
	if err != nil {
		return nil, err
	}
	cookies := s.Cookies()
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, Cookie{Name: c.Name, Value: c.Value, Expires: c.Expires})
	}
	return out, nil
}

// ImportCookies loads previously exported cookies into judge's session. Expired cookies are
// skipped. The session stays logged out until EnsureLoggedIn confirms them.
func (m *Manager) ImportCookies(judge model.Judge, cookies []Cookie) error {
	s, err := m.Session(judge)
	if err != nil {
		return err
	}
	now := time.Now()
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		httpCookies = append(httpCookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/", Expires: c.Expires})
	}
	s.SetCookies(httpCookies)
	return nil
}
