package fetch

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
)

// Session is a cookie-keeping client that holds a login between requests.
// It satisfies adapter.Session.
type Session struct {
	client *Client
	jar    *cookiejar.Jar
	closed bool
}

// NewSession builds a Session with its own cookie jar. Options.Jar is
// ignored.
func NewSession(opts Options) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	opts.Jar = jar
	return &Session{client: New(opts), jar: jar}, nil
}

// Get fetches rawURL with the session cookies.
func (s *Session) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	resp, err := s.client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// PostForm submits form with the session cookies.
func (s *Session) PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	resp, err := s.client.PostForm(ctx, rawURL, form)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Cookies returns the cookies the session would send to rawURL.
func (s *Session) Cookies(rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, c := range s.jar.Cookies(u) {
		names = append(names, c.Name)
	}
	return names, nil
}

// Close drops idle connections. The session cannot be used afterwards.
func (s *Session) Close() error {
	s.closed = true
	s.client.http.CloseIdleConnections()
	return nil
}
