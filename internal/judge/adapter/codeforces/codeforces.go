// Package codeforces implements the adapter for Codeforces. Problem lists and verdicts come
// from the public API, everything else from the site's HTML.
package codeforces

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/session"
	pkgerrors "ojkit/pkg/errors"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DefaultBaseURL = "https://codeforces.com"
	// The API allows one call every two seconds.
	DefaultMinInterval = 2 * time.Second
)

func init() {
	adapter.Register(adapter.Definition{
		Judge:              model.JudgeCodeforces,
		Name:               "Codeforces",
		DefaultBaseURL:     DefaultBaseURL,
		DefaultMinInterval: DefaultMinInterval,
		Build: func(opts adapter.Options) (adapter.Adapter, error) {
			return New(opts), nil
		},
	})
}

// Adapter talks to Codeforces.
type Adapter struct {
	adapter.Base

	mu     sync.Mutex
	handle string
}

// New creates a Codeforces adapter. opts.Handle names the account used for API lookups; when
// empty it is read from the page header after login.
func New(opts adapter.Options) *Adapter {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	interval := opts.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &Adapter{
		Base:   adapter.NewBase(model.JudgeCodeforces, base, interval),
		handle: opts.Handle,
	}
}

func (a *Adapter) scraper(phase string) adapter.Scraper {
	return adapter.Scraper{Judge: string(model.JudgeCodeforces), Phase: phase}
}

// browserTokens returns the ftaa/bfaa pair the login and submit forms expect. Codeforces only
// checks that they look like fingerprints.
func browserTokens() (ftaa, bfaa string) {
	ftaa = strings.ReplaceAll(uuid.NewString(), "-", "")[:18]
	bfaa = strings.ReplaceAll(uuid.NewString(), "-", "")
	return ftaa, bfaa
}

// Authenticate posts the /enter form.
func (a *Adapter) Authenticate(ctx context.Context, s *session.Session, creds model.Credentials) error {
	sc := a.scraper("login")
	resp, err := s.Send(ctx, session.Get("/enter"))
	if err != nil {
		return err
	}
	if resp.IsRedirect() {
		return nil
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return err
	}
	doc, err := resp.Document()
	if err != nil {
		return err
	}
	token, ok := adapter.HiddenInput(doc, "csrf_token")
	if !ok {
		return sc.Missing(`input[name="csrf_token"]`)
	}
	s.SetCSRFToken(token)

	ftaa, bfaa := browserTokens()
	resp, err = s.Send(ctx, session.PostForm("/enter", url.Values{
		"csrf_token":    {token},
		"action":        {"enter"},
		"ftaa":          {ftaa},
		"bfaa":          {bfaa},
		"handleOrEmail": {creds.Username},
		"password":      {creds.Password},
		"remember":      {"on"},
	}))
	if err != nil {
		return err
	}
	if resp.IsRedirect() {
		if loc := resp.Location(); loc != nil && loc.Path != "/enter" {
			if !strings.Contains(creds.Username, "@") {
				a.setHandle(creds.Username)
			}
			return nil
		}
	} else if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.InvalidCredentials).WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces))
}

// IsSessionValid treats a redirect to /enter as a lost session.
func (a *Adapter) IsSessionValid(resp *session.Response) bool {
	if !resp.IsRedirect() {
		return true
	}
	loc := resp.Location()
	return loc == nil || loc.Path != "/enter"
}

// DetectChallenge recognizes the Cloudflare interstitial.
func (a *Adapter) DetectChallenge(resp *session.Response) string {
	return adapter.DetectChallenge(resp)
}

// Probe checks imported cookies against the settings page and learns the handle from it.
func (a *Adapter) Probe(ctx context.Context, s *session.Session) error {
	resp, err := s.Send(ctx, session.Get("/settings/general"))
	if err != nil {
		return err
	}
	if !a.IsSessionValid(resp) {
		return pkgerrors.New(pkgerrors.NotLoggedIn).WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces))
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return err
	}
	if doc, err := resp.Document(); err == nil {
		if h := headerHandle(doc); h != "" {
			a.setHandle(h)
		}
	}
	return nil
}

func (a *Adapter) setHandle(h string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == "" {
		a.handle = h
	}
}

func (a *Adapter) currentHandle() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

// headerHandle finds the logged in user's profile link in the page header.
func headerHandle(doc *html.Node) string {
	header := adapter.Find(doc, adapter.ByClass("lang-chooser"))
	if header == nil {
		return ""
	}
	for _, link := range adapter.FindAll(header, adapter.ByTag(atom.A)) {
		if href := adapter.Attr(link, "href"); strings.HasPrefix(href, "/profile/") {
			return strings.TrimPrefix(href, "/profile/")
		}
	}
	return ""
}

// problemIndex returns the contest-local index, e.g. "A" for "1900A".
func problemIndex(p model.Problem) string {
	if p.Index != "" {
		return p.Index
	}
	return strings.TrimPrefix(p.ID, p.ContestID)
}
