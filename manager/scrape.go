package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/fetch"
	"github.com/pevans/newsarchive/logger"
	"github.com/pevans/newsarchive/store"
)

// statsEvery is how often a scrape pass logs its public/premium ratio.
const statsEvery = 100

// ScrapeReport summarizes a scrape pass.
type ScrapeReport struct {
	Candidates int
	Public     int
	Premium    int
	Scraped    int
	// ParseErrors counts pages stored with a ParseError column.
	ParseErrors int
	// Skipped counts URLs the site refused, left for a later pass.
	Skipped     int
	LoginFailed bool
	NothingToDo bool
}

// ScrapePublic fetches every article of the site whose visibility is still
// unknown. Public pages are parsed and stored; all pages get their public
// flag.
func (m *Manager) ScrapePublic(ctx context.Context) (*ScrapeReport, error) {
	name := m.site.Name()
	skipped := make(map[string]bool)
	candidates := func() []store.Article {
		return m.store.Articles(name, func(a store.Article) bool {
			return a.Public == nil && !a.Scraped && !skipped[a.URL]
		})
	}

	p := m.begin("scrape_public")
	report := &ScrapeReport{Candidates: len(candidates())}
	if report.Candidates == 0 {
		report.NothingToDo = true
		p.log.Info("no articles to scrape")
		return report, nil
	}
	p.log.Info("start scraping", logger.Int("articles", report.Candidates))

	st := &ratio{}
	err := m.run(ctx, p, func() error {
		todo := candidates()
		for i, a := range todo {
			if err := ctx.Err(); err != nil {
				return err
			}
			html, public, err := m.site.FetchAndClassify(ctx, a.URL)
			if err != nil {
				if refused(err) {
					p.log.Warn("skipping article", logger.String("url", a.URL), logger.Error(err))
					skipped[a.URL] = true
					report.Skipped++
					continue
				}
				return fmt.Errorf("failed to fetch %s: %w", a.URL, err)
			}

			if public {
				if err := m.store.AppendScraped(m.scrapedRow(p, report, html, a.URL)); err != nil {
					return err
				}
				report.Public++
				report.Scraped++
			} else {
				report.Premium++
			}
			if err := m.store.MarkPublic(a.URL, public); err != nil {
				return err
			}
			if err := m.save(store.Scraped); err != nil {
				return err
			}

			st.add(public)
			p.log.Debug("classified article",
				logger.String("url", a.URL),
				logger.Bool("public", public),
				logger.Int("progress", i+1),
				logger.Int("total", len(todo)))
			if st.total()%statsEvery == 0 {
				st.log(p.log)
			}
		}
		return nil
	})
	if st.total()%statsEvery != 0 {
		st.log(p.log)
	}
	return report, err
}

// ScrapePremium logs in with creds and fetches every premium article of
// the site that has no scraped row yet. A rejected login is reported, not
// returned as an error.
func (m *Manager) ScrapePremium(ctx context.Context, creds adapter.Credentials) (*ScrapeReport, error) {
	if creds.Empty() {
		return nil, ErrMissingCredentials
	}

	name := m.site.Name()
	skipped := make(map[string]bool)
	candidates := func() []store.Article {
		return m.store.Articles(name, func(a store.Article) bool {
			return a.Public != nil && !*a.Public && !a.Scraped && !skipped[a.URL]
		})
	}

	p := m.begin("scrape_premium")
	report := &ScrapeReport{Candidates: len(candidates())}
	if report.Candidates == 0 {
		report.NothingToDo = true
		p.log.Info("no articles to scrape")
		return report, nil
	}

	sess, release, err := m.session()
	if err != nil {
		return report, err
	}
	defer func() {
		if err := release(); err != nil {
			p.log.Warn("failed to close session", logger.Error(err))
		}
	}()

	authed, _ := m.site.(adapter.AuthenticatedFetcher)
	fetchPage := func(ctx context.Context, u string) ([]byte, error) {
		if authed != nil {
			return authed.FetchAuthenticated(ctx, sess, u)
		}
		return sess.Get(ctx, u)
	}

	err = m.run(ctx, p, func() error {
		ok, err := m.site.Login(ctx, sess, creds)
		if err != nil {
			return fmt.Errorf("failed to log in: %w", err)
		}
		if !ok {
			report.LoginFailed = true
			p.log.Warn("login failed, skipping premium articles",
				logger.String("username", creds.Username))
			return nil
		}
		p.log.Info("start scraping", logger.Int("articles", report.Candidates))

		todo := candidates()
		for i, a := range todo {
			if err := ctx.Err(); err != nil {
				return err
			}
			html, err := fetchPage(ctx, a.URL)
			if err != nil {
				if refused(err) {
					p.log.Warn("skipping article", logger.String("url", a.URL), logger.Error(err))
					skipped[a.URL] = true
					report.Skipped++
					continue
				}
				return fmt.Errorf("failed to fetch %s: %w", a.URL, err)
			}
			if err := m.store.AppendScraped(m.scrapedRow(p, report, html, a.URL)); err != nil {
				return err
			}
			if err := m.save(store.Scraped); err != nil {
				return err
			}
			report.Premium++
			report.Scraped++
			p.log.Debug("scraped article",
				logger.String("url", a.URL),
				logger.Int("progress", i+1),
				logger.Int("total", len(todo)))
		}
		return nil
	})
	return report, err
}

// session returns the premium session and a func releasing it. Sessions
// the manager creates are closed on release; injected ones are not.
func (m *Manager) session() (adapter.Session, func() error, error) {
	if m.opts.Session != nil {
		return m.opts.Session, func() error { return nil }, nil
	}
	newSession := m.opts.NewSession
	if newSession == nil {
		newSession = func() (adapter.Session, error) {
			sess, err := fetch.NewSession(m.opts.Fetch)
			if err != nil {
				return nil, err
			}
			return sess, nil
		}
	}
	sess, err := newSession()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, sess.Close, nil
}

// scrapedRow extracts the fields of a page. A parse failure is logged and
// the row keeps whatever was read plus the error, so the article is not
// fetched again.
func (m *Manager) scrapedRow(p pass, report *ScrapeReport, html []byte, url string) store.Row {
	row := store.Row{}
	fields, err := m.extractor.Extract(html, url)
	for k, v := range fields {
		row[k] = v
	}
	if err != nil {
		p.log.Warn("failed to parse article", logger.String("url", url), logger.Error(err))
		row[ColParseError] = err.Error()
		report.ParseErrors++
	}
	row[store.ColURL] = url
	row[ColRunID] = p.id
	m.noteColumns(p, row)
	return row
}

// noteColumns logs fields that the Scraped table has never held.
func (m *Manager) noteColumns(p pass, row store.Row) {
	var added []string
	for k := range row {
		if m.seen[k] || m.store.HasColumn(store.Scraped, k) {
			continue
		}
		m.seen[k] = true
		added = append(added, k)
	}
	if len(added) > 0 {
		sort.Strings(added)
		p.log.Info("new scraped fields", logger.Strings("fields", added))
	}
}

// refused reports errors that concern one URL only and would fail again
// on retry.
func refused(err error) bool {
	if errors.Is(err, fetch.ErrDisallowed) {
		return true
	}
	var se *fetch.StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusNotFound || se.Code == http.StatusGone
	}
	return false
}

// ratio tracks public versus premium pages, overall and over the last
// statsEvery pages.
type ratio struct {
	public, premium int
	window          []bool
}

func (r *ratio) add(public bool) {
	if public {
		r.public++
	} else {
		r.premium++
	}
	r.window = append(r.window, public)
	if len(r.window) > statsEvery {
		r.window = r.window[1:]
	}
}

func (r *ratio) total() int {
	return r.public + r.premium
}

func (r *ratio) log(log logger.Logger) {
	recent := 0
	for _, pub := range r.window {
		if pub {
			recent++
		}
	}
	log.Info("scrape stats",
		logger.Int("public", r.public),
		logger.Int("premium", r.premium),
		logger.Int("recent_public", recent),
		logger.Int("recent_premium", len(r.window)-recent))
}
