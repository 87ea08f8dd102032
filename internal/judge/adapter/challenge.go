package adapter

import (
	"bytes"
	"net/http"

	"ojkit/internal/judge/session"

	"golang.org/x/net/html/atom"
)

const cloudflareTitle = "<title>Just a moment...</title>"

// Widgets only count inside a form. Ordinary pages carry the same names in scripts, e.g.
// Cloudflare's /cdn-cgi/challenge-platform detection script.
var challengeWidgets = []string{"cf-turnstile", "g-recaptcha", "h-captcha"}

// DetectChallenge returns the marker of a bot check or CAPTCHA form in resp, or "".
func DetectChallenge(resp *session.Response) string {
	if resp.Header.Get("Cf-Mitigated") == "challenge" {
		return "cf-mitigated"
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if bytes.Contains(resp.Body, []byte(cloudflareTitle)) {
			return cloudflareTitle
		}
	}

	found := false
	for _, w := range challengeWidgets {
		if bytes.Contains(resp.Body, []byte(w)) {
			found = true
			break
		}
	}
	if !found {
		return ""
	}
	doc, err := resp.Document()
	if err != nil {
		return ""
	}
	for _, form := range FindAll(doc, ByTag(atom.Form)) {
		for _, w := range challengeWidgets {
			if Find(form, ByClass(w)) != nil {
				return w
			}
		}
	}
	return ""
}
