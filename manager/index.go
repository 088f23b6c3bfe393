package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/logger"
	"github.com/pevans/newsarchive/store"
	"github.com/pevans/newsarchive/workunit"
)

// IndexReport summarizes an indexing pass.
type IndexReport struct {
	// Units is the number of days or editions in the requested range.
	Units int
	// Pending is the number of units that had to be listed.
	Pending int
	// Done is the number of pending units listed and saved.
	Done int
	// Seen counts distinct links found, Added the ones new to the store.
	Seen  int
	Added int
	// NothingToDo is set when every unit in the range was already covered.
	NothingToDo bool
}

// Index lists every day from from to to, both inclusive, in the site's
// calendar and records the articles not indexed yet. With skipExisting a
// day is skipped when some indexed article of this site was published on
// it.
func (m *Manager) Index(ctx context.Context, from, to time.Time, skipExisting bool) (*IndexReport, error) {
	lister, ok := m.site.(adapter.DateLister)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no date archive", ErrUnsupported, m.site.Name())
	}
	loc := adapter.Location(m.site)

	all, err := workunit.Days(from, to, loc)
	if err != nil {
		return nil, err
	}
	days, err := workunit.PendingDays(from, to, m.store.PubDates(m.site.Name()), loc, skipExisting)
	if err != nil {
		return nil, err
	}

	p := m.begin("index")
	report := &IndexReport{Units: len(all), Pending: len(days)}
	if len(days) == 0 {
		report.NothingToDo = true
		p.log.Info("no new days to index, pass skipExisting=false to index them again",
			logger.Int("days", len(all)))
		return report, nil
	}
	p.log.Info("start indexing",
		logger.Int("days", len(days)),
		logger.Int("already_indexed", len(all)-len(days)))

	next := 0
	err = m.run(ctx, p, func() error {
		for ; next < len(days); next++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			day := days[next]
			listings, err := lister.ListByDate(ctx, day)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", day.Format("2006-01-02"), err)
			}
			articles, seen, err := m.fromListings(p, listings)
			if err != nil {
				return err
			}
			added := m.store.RecordIndexed(articles...)
			if err := m.save(store.Indexed); err != nil {
				return err
			}

			report.Done++
			report.Seen += seen
			report.Added += added
			p.log.Info("indexed day",
				logger.String("day", day.Format("2006-01-02")),
				logger.Int("progress", next+1),
				logger.Int("total", len(days)),
				logger.Int("added", added),
				logger.Int("seen", seen))
		}
		return nil
	})
	return report, err
}

// IndexByEdition lists every edition from from to to, both "YEAR-EDITION"
// labels, and records the articles not indexed yet. perYear zero uses the
// site's own edition count.
func (m *Manager) IndexByEdition(ctx context.Context, from, to string, perYear int, skipExisting bool) (*IndexReport, error) {
	lister, ok := m.site.(adapter.EditionLister)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no edition archive", ErrUnsupported, m.site.Name())
	}
	if perYear == 0 {
		perYear = lister.EditionsPerYear()
	}

	all, err := workunit.PendingEditions(from, to, perYear, nil, false)
	if err != nil {
		return nil, err
	}
	editions, err := workunit.PendingEditions(from, to, perYear, m.store.Editions(m.site.Name()), skipExisting)
	if err != nil {
		return nil, err
	}

	p := m.begin("index_by_edition")
	report := &IndexReport{Units: len(all), Pending: len(editions)}
	if len(editions) == 0 {
		report.NothingToDo = true
		p.log.Info("no new editions to index, pass skipExisting=false to index them again",
			logger.Int("editions", len(all)))
		return report, nil
	}
	p.log.Info("start indexing",
		logger.Int("editions", len(editions)),
		logger.Int("already_indexed", len(all)-len(editions)))

	next := 0
	err = m.run(ctx, p, func() error {
		for ; next < len(editions); next++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			ed := editions[next]
			urls, err := lister.ListByEdition(ctx, ed)
			if err != nil {
				return fmt.Errorf("failed to list edition %s: %w", ed, err)
			}

			fresh, seen := m.freshURLs(p, urls)
			articles := make([]store.Article, 0, len(fresh))
			for _, u := range fresh {
				articles = append(articles, store.Article{
					URL:         u,
					NewspaperID: m.site.Name(),
					Edition:     ed.String(),
				})
			}
			added := m.store.RecordIndexed(articles...)
			if err := m.save(store.Indexed); err != nil {
				return err
			}

			report.Done++
			report.Seen += seen
			report.Added += added
			p.log.Info("indexed edition",
				logger.String("edition", ed.String()),
				logger.Int("progress", next+1),
				logger.Int("total", len(editions)),
				logger.Int("added", added),
				logger.Int("seen", seen))
		}
		return nil
	})
	return report, err
}

// fromListings validates the publication times of one day and returns the
// articles new to the store, plus the number of distinct links seen. A
// single naive time fails the whole day before anything is recorded.
func (m *Manager) fromListings(p pass, listings []adapter.Listing) ([]store.Article, int, error) {
	published := make(map[string]time.Time, len(listings))
	urls := make([]string, 0, len(listings))
	for _, l := range listings {
		if adapter.IsNaive(l.Published) {
			return nil, 0, fmt.Errorf("%w: %s", adapter.ErrNaiveTimestamp, l.URL)
		}
		u := articleURL(l.URL)
		if _, ok := published[u]; !ok {
			published[u] = l.Published.UTC()
		}
		urls = append(urls, l.URL)
	}

	fresh, seen := m.freshURLs(p, urls)
	articles := make([]store.Article, 0, len(fresh))
	for _, u := range fresh {
		t := published[u]
		articles = append(articles, store.Article{
			URL:              u,
			NewspaperID:      m.site.Name(),
			PubDateIndexPage: &t,
		})
	}
	return articles, seen, nil
}

// freshURLs strips query strings, drops duplicates with a warning and
// keeps the URLs not indexed yet, in listing order.
func (m *Manager) freshURLs(p pass, urls []string) ([]string, int) {
	seen := make(map[string]bool, len(urls))
	var fresh []string
	dupes := 0
	for _, raw := range urls {
		u := articleURL(raw)
		if u == "" {
			continue
		}
		if seen[u] {
			dupes++
			continue
		}
		seen[u] = true
		if !m.store.Has(u) {
			fresh = append(fresh, u)
		}
	}
	if dupes > 0 {
		p.log.Warn("removed duplicate links", logger.Int("duplicates", dupes))
	}
	return fresh, len(seen)
}

// articleURL drops the fragment and query string of a listed link. The rest
// is kept byte for byte so it matches URLs already stored.
func articleURL(rawURL string) string {
	u, _, _ := strings.Cut(strings.TrimSpace(rawURL), "#")
	u, _, _ = strings.Cut(u, "?")
	return u
}
