// Package adapter defines what a publisher's archive has to provide so the
// crawl drivers can list, classify and fetch its articles.
package adapter

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/pevans/newsarchive/workunit"
)

// ErrNaiveTimestamp is returned when a listing carries a publication time
// without an explicit zone.
var ErrNaiveTimestamp = errors.New("publication time has no explicit time zone")

// ErrLoginNotConfigured is returned by Login when the site has no premium
// login.
var ErrLoginNotConfigured = errors.New("site has no login configured")

// Listing is one article link found on a date-keyed archive page.
type Listing struct {
	URL string
	// Published is the publication time shown on the index page. It must
	// carry an explicit zone; sites without a time use midnight UTC.
	Published time.Time
}

// Credentials log a session into a publisher's premium area.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether either part is missing.
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// Session is a stateful client that keeps a login across requests.
type Session interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
	PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error)
	Close() error
}

// Site is the part every publisher adapter implements.
type Site interface {
	// Name is the newspaper ID stored with every indexed article.
	Name() string
	// FetchAndClassify fetches one article and reports whether it is
	// public. Premium or ambiguous pages return public false.
	FetchAndClassify(ctx context.Context, rawURL string) (html []byte, public bool, err error)
	// Login authenticates sess and reports whether it worked.
	Login(ctx context.Context, sess Session, creds Credentials) (bool, error)
}

// DateLister lists the articles of a date-keyed archive.
type DateLister interface {
	ListByDate(ctx context.Context, day time.Time) ([]Listing, error)
}

// EditionLister lists the articles of an edition-keyed archive.
type EditionLister interface {
	ListByEdition(ctx context.Context, ed workunit.Edition) ([]string, error)
	EditionsPerYear() int
}

// AuthenticatedFetcher fetches an article through a logged-in session when
// a plain session Get is not enough.
type AuthenticatedFetcher interface {
	FetchAuthenticated(ctx context.Context, sess Session, rawURL string) ([]byte, error)
}

// Locator tells the drivers which calendar the archive uses.
type Locator interface {
	Location() *time.Location
}

// Location returns the site's archive calendar, UTC when it has none.
func Location(s Site) *time.Location {
	if l, ok := s.(Locator); ok && l.Location() != nil {
		return l.Location()
	}
	return time.UTC
}

// IsNaive reports whether t lacks an explicit zone. The zero time and times
// in the implicit local zone count as naive.
func IsNaive(t time.Time) bool {
	return t.IsZero() || t.Location() == time.Local
}
