package sites

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/extract"
	"github.com/pevans/newsarchive/fetch"
	"github.com/pevans/newsarchive/logger"
	"github.com/pevans/newsarchive/workunit"
)

// Fetcher performs the unauthenticated requests of an adapter.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Selector is the shared part of the configured adapters: article
// classification, login and authenticated fetch.
type Selector struct {
	cfg    Config
	loc    *time.Location
	client Fetcher
	log    logger.Logger
	ex     extract.Extractor

	exclude    *regexp.Regexp
	published  *regexp.Regexp
	premiumURL *regexp.Regexp
}

// DateSite is a Selector over a date-keyed archive.
type DateSite struct {
	*Selector
}

// EditionSite is a Selector over an edition-keyed archive.
type EditionSite struct {
	*Selector
}

// New builds the adapter described by cfg.
func New(cfg Config, client Fetcher, log logger.Logger) (adapter.Site, error) {
	s, err := newSelector(cfg, client, log)
	if err != nil {
		return nil, err
	}
	switch s.cfg.Kind {
	case KindEdition:
		return &EditionSite{Selector: s}, nil
	case KindFeed:
		return newFeedSite(s), nil
	default:
		return &DateSite{Selector: s}, nil
	}
}

func newSelector(cfg Config, client Fetcher, log logger.Logger) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	loc, _ := cfg.location()

	s := &Selector{
		cfg:    cfg,
		loc:    loc,
		client: client,
		log:    log.With(logger.String("site", cfg.Name)),
		ex:     extract.New(cfg.Article.Extract),
	}
	if p := cfg.List.ExcludePattern; p != "" {
		s.exclude = regexp.MustCompile(p)
	}
	if p := cfg.List.PublishedPattern; p != "" {
		s.published = regexp.MustCompile(p)
	}
	if p := cfg.Article.PremiumURLPattern; p != "" {
		s.premiumURL = regexp.MustCompile(p)
	}
	return s, nil
}

// Name implements adapter.Site.
func (s *Selector) Name() string { return s.cfg.Name }

// Location implements adapter.Locator.
func (s *Selector) Location() *time.Location { return s.loc }

// Extractor returns the article extractor configured for the site.
func (s *Selector) Extractor() extract.Extractor { return s.ex }

// Config returns the validated site config.
func (s *Selector) Config() Config { return s.cfg }

// FetchAndClassify implements adapter.Site.
func (s *Selector) FetchAndClassify(ctx context.Context, rawURL string) ([]byte, bool, error) {
	resp, err := s.client.Get(ctx, rawURL)
	if err != nil {
		return nil, false, err
	}
	if s.cfg.Article.AlwaysPremium {
		return resp.Body, false, nil
	}
	if s.premiumURL != nil && (s.premiumURL.MatchString(rawURL) || s.premiumURL.MatchString(resp.URL)) {
		return resp.Body, false, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse HTML: %w", err)
	}

	if full, ok := s.fullView(doc, rawURL); ok {
		return s.FetchAndClassify(ctx, full)
	}

	if sel := s.cfg.Article.RecognizedSelector; sel != "" && doc.Find(sel).Length() == 0 {
		s.log.Warn("could not classify article", logger.String("url", rawURL))
		return nil, false, nil
	}
	if sel := s.cfg.Article.PremiumSelector; sel != "" && doc.Find(sel).Length() > 0 {
		return resp.Body, false, nil
	}
	return resp.Body, true, nil
}

// fullView returns the single-page URL when the page links to it.
func (s *Selector) fullView(doc *goquery.Document, rawURL string) (string, bool) {
	suffix := s.cfg.Article.FullViewSuffix
	if suffix == "" || strings.HasSuffix(strings.TrimRight(rawURL, "/"), suffix) {
		return "", false
	}
	full := strings.TrimRight(rawURL, "/") + suffix
	base, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	found := false
	doc.Find("a[href]").EachWithBreak(func(i int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if resolve(base, href) == full {
			found = true
			return false
		}
		return true
	})
	return full, found
}

// Login implements adapter.Site with a plain form post.
func (s *Selector) Login(ctx context.Context, sess adapter.Session, creds adapter.Credentials) (bool, error) {
	lc := s.cfg.Login
	if lc.URL == "" {
		return false, ErrLoginNotConfigured
	}
	userField, passField := lc.UsernameField, lc.PasswordField
	if userField == "" {
		userField = "username"
	}
	if passField == "" {
		passField = "password"
	}

	page, err := sess.Get(ctx, lc.URL)
	if err != nil {
		return false, fmt.Errorf("failed to load login page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return false, fmt.Errorf("failed to parse login page: %w", err)
	}

	form := doc.Find("form").FilterFunction(func(i int, f *goquery.Selection) bool {
		return f.Find(fmt.Sprintf(`input[name=%q]`, passField)).Length() > 0
	}).First()

	values := url.Values{}
	form.Find("input[type=hidden][name]").Each(func(i int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		value, _ := in.Attr("value")
		values.Set(name, value)
	})
	values.Set(userField, creds.Username)
	values.Set(passField, creds.Password)

	action := lc.ActionURL
	if action == "" {
		base, _ := url.Parse(lc.URL)
		if a, ok := form.Attr("action"); ok && a != "" && base != nil {
			action = resolve(base, a)
		} else {
			action = lc.URL
		}
	}

	body, err := sess.PostForm(ctx, action, values)
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return false, nil
		}
		return false, fmt.Errorf("failed to post login form: %w", err)
	}
	if lc.SuccessSelector == "" {
		return true, nil
	}

	result, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to parse login response: %w", err)
	}
	return result.Find(lc.SuccessSelector).Length() > 0, nil
}

// FetchAuthenticated implements adapter.AuthenticatedFetcher. It follows the
// single-page link like FetchAndClassify does.
func (s *Selector) FetchAuthenticated(ctx context.Context, sess adapter.Session, rawURL string) ([]byte, error) {
	body, err := sess.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if s.cfg.Article.FullViewSuffix == "" {
		return body, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return body, nil
	}
	if full, ok := s.fullView(doc, rawURL); ok {
		return sess.Get(ctx, full)
	}
	return body, nil
}

// ListByDate implements adapter.DateLister.
func (d *DateSite) ListByDate(ctx context.Context, day time.Time) ([]adapter.Listing, error) {
	return d.listPage(ctx, d.dayURL(day), day)
}

// ListByEdition implements adapter.EditionLister.
func (e *EditionSite) ListByEdition(ctx context.Context, ed workunit.Edition) ([]string, error) {
	listings, err := e.listPage(ctx, e.editionURL(ed), time.Time{})
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(listings))
	for _, l := range listings {
		urls = append(urls, l.URL)
	}
	return urls, nil
}

// EditionsPerYear implements adapter.EditionLister.
func (e *EditionSite) EditionsPerYear() int { return e.cfg.EditionsPerYear }

func (s *Selector) dayURL(day time.Time) string {
	day = day.In(s.loc)
	return strings.NewReplacer(
		"{date}", day.Format(s.cfg.DateLayout),
		"{year}", strconv.Itoa(day.Year()),
		"{month}", fmt.Sprintf("%02d", int(day.Month())),
		"{day}", fmt.Sprintf("%02d", day.Day()),
	).Replace(s.cfg.ArchiveURL)
}

func (s *Selector) editionURL(ed workunit.Edition) string {
	return strings.NewReplacer(
		"{year}", strconv.Itoa(ed.Year),
		"{edition}", strconv.Itoa(ed.Number),
		"{edition2}", fmt.Sprintf("%02d", ed.Number),
	).Replace(s.cfg.ArchiveURL)
}

func (s *Selector) listPage(ctx context.Context, pageURL string, day time.Time) ([]adapter.Listing, error) {
	resp, err := s.client.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index page: %w", err)
	}
	base, err := url.Parse(resp.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid index page URL: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse index page: %w", err)
	}

	lc := s.cfg.List
	var out []adapter.Listing
	doc.Find(lc.ItemSelector).Each(func(i int, item *goquery.Selection) {
		if lc.SkipSelector != "" && item.Find(lc.SkipSelector).Length() > 0 {
			return
		}

		link := item
		switch {
		case lc.LinkSelector != "":
			link = item.Find(lc.LinkSelector).First()
		case !item.Is("a"):
			link = item.Find("a[href]").First()
		}
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		u := resolve(base, strings.TrimSpace(href))
		if lc.URLPrefix != "" && !strings.HasPrefix(u, lc.URLPrefix) {
			return
		}
		if s.exclude != nil && s.exclude.MatchString(u) {
			return
		}
		out = append(out, adapter.Listing{URL: u, Published: s.publishedAt(item, day)})
	})

	s.log.Debug("read index page", logger.String("page", pageURL), logger.Int("links", len(out)))
	return out, nil
}

var germanMonths = strings.NewReplacer(
	"Januar", "January", "Februar", "February", "März", "March",
	"Mai", "May", "Juni", "June", "Juli", "July",
	"Oktober", "October", "Dezember", "December",
)

// publishedAt reads the publication time of an index item. Items without a
// readable time are stamped at midnight UTC of the listed day.
func (s *Selector) publishedAt(item *goquery.Selection, day time.Time) time.Time {
	fallback := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	lc := s.cfg.List
	if lc.PublishedLayout == "" || day.IsZero() {
		return fallback
	}

	sel := item
	if lc.PublishedSelector != "" {
		sel = item.Find(lc.PublishedSelector).First()
	}
	var raw string
	if lc.PublishedAttr != "" {
		raw, _ = sel.Attr(lc.PublishedAttr)
	} else {
		raw = sel.Text()
	}
	raw = strings.Join(strings.Fields(raw), " ")
	if s.published != nil {
		raw = s.published.FindString(raw)
	}
	if lc.GermanMonths {
		raw = germanMonths.Replace(raw)
	}

	t, err := time.ParseInLocation(lc.PublishedLayout, raw, s.loc)
	if err != nil {
		s.log.Debug("unreadable publication time", logger.String("value", raw), logger.Error(err))
		return fallback
	}
	if t.Year() == 0 {
		t = time.Date(day.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, s.loc)
	}
	return t
}

func resolve(base *url.URL, ref string) string {
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
