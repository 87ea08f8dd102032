package session

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	pkgerrors "ojkit/pkg/errors"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Response is a fully read judge response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        *url.URL
	Duration   time.Duration
}

// IsRedirect reports whether the judge answered with a 3xx status.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// Location returns the resolved redirect target, or nil.
func (r *Response) Location() *url.URL {
	loc := r.Header.Get("Location")
	if loc == "" {
		return nil
	}
	u, err := url.Parse(loc)
	if err != nil {
		return nil
	}
	if r.URL != nil {
		u = r.URL.ResolveReference(u)
	}
	return u
}

// Text returns the body decoded to UTF-8 according to the declared charset.
func (r *Response) Text() (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(r.Body), r.Header.Get("Content-Type"))
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.UnsupportedEncoding).WithDetail(pkgerrors.DetailURL, r.url())
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.UnsupportedEncoding).WithDetail(pkgerrors.DetailURL, r.url())
	}
	return string(data), nil
}

// Document parses the body as HTML.
func (r *Response) Document() (*html.Node, error) {
	reader, err := charset.NewReader(bytes.NewReader(r.Body), r.Header.Get("Content-Type"))
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.UnsupportedEncoding).WithDetail(pkgerrors.DetailURL, r.url())
	}
	doc, err := html.Parse(reader)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.ScrapeError, "parse html failed").WithDetail(pkgerrors.DetailURL, r.url())
	}
	return doc, nil
}

// DecodeJSON unmarshals the body into v. A body that is not the expected JSON is format drift.
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.ScrapeError, "decode json failed: %v", err).WithDetail(pkgerrors.DetailURL, r.url())
	}
	return nil
}

// ExpectStatus returns UnexpectedStatus unless the status is one of codes.
func (r *Response) ExpectStatus(codes ...int) error {
	for _, c := range codes {
		if r.StatusCode == c {
			return nil
		}
	}
	code := pkgerrors.UnexpectedStatus
	if r.StatusCode == http.StatusNotFound {
		code = pkgerrors.NotFound
	}
	return pkgerrors.Newf(code, "unexpected HTTP status %d", r.StatusCode).
		WithDetail(pkgerrors.DetailStatus, r.StatusCode).
		WithDetail(pkgerrors.DetailURL, r.url())
}

func (r *Response) url() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}
