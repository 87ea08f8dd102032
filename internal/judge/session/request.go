package session

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// Request describes one exchange with the judge. Bodies are kept as bytes so that a retried
// attempt can send them again.
type Request struct {
	Method string
	// Path is resolved against the site's base URL unless it is absolute.
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
	Header      http.Header
	// NoReferer suppresses the Referer header, for API calls.
	NoReferer bool
}

// Get builds a GET request.
func Get(path string) Request {
	return Request{Method: http.MethodGet, Path: path}
}

// PostForm builds a form-encoded POST request.
func PostForm(path string, form url.Values) Request {
	return Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	}
}

// PostJSON builds a JSON POST request.
func PostJSON(path string, v interface{}) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		ContentType: "application/json",
		NoReferer:   true,
	}, nil
}

// PostMultipart builds a multipart/form-data POST request from plain fields.
func PostMultipart(path string, fields url.Values) (Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			if err := w.WriteField(k, v); err != nil {
				return Request{}, err
			}
		}
	}
	if err := w.Close(); err != nil {
		return Request{}, err
	}
	return Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
	}, nil
}

// WithHeader returns a copy of r with the header set.
func (r Request) WithHeader(key, value string) Request {
	h := make(http.Header, len(r.Header)+1)
	for k, v := range r.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set(key, value)
	r.Header = h
	return r
}

func (r Request) resolve(base *url.URL) (*url.URL, error) {
	ref, err := url.Parse(r.Path)
	if err != nil {
		return nil, err
	}
	u := base.ResolveReference(ref)
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func (r Request) bodyReader() io.Reader {
	if len(r.Body) == 0 {
		return nil
	}
	return bytes.NewReader(r.Body)
}
