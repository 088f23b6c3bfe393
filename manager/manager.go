// Package manager runs the crawl passes of one publisher against an archive
// store: indexing, public and premium scraping, and NLP enrichment.
//
// Every pass works on a snapshot of the store taken when it starts, saves
// after each unit of work and, with RetryOnError, re-runs whatever is left
// after a fixed delay until it succeeds or hits a permanent error.
package manager

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/extract"
	"github.com/pevans/newsarchive/fetch"
	"github.com/pevans/newsarchive/logger"
	"github.com/pevans/newsarchive/nlp"
	"github.com/pevans/newsarchive/store"
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrNoAnalyzer         = errors.New("no analyzer configured")
	ErrUnsupported        = errors.New("site does not support this operation")
	ErrNoStore            = errors.New("no database path or store given")
)

// DefaultRetryDelay is the wait between two attempts of a failed pass.
const DefaultRetryDelay = 100 * time.Second

// Extra columns written by the scrape and enrichment passes.
const (
	ColRunID      = "RunID"
	ColParseError = "ParseError"
)

// Options configure a Manager.
type Options struct {
	// DBPath is opened when Store is nil.
	DBPath string
	// Store is a pre-opened store shared with other managers. A Manager
	// does not close a store it was given.
	Store *store.Store

	RetryOnError bool
	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration
	// SaveInterval is passed to the store the manager opens. Zero means
	// store.DefaultSaveInterval; a negative value writes on every save.
	SaveInterval time.Duration

	Logger logger.Logger

	// Session is used for the premium pass instead of creating one.
	Session adapter.Session
	// NewSession creates the premium session when Session is nil. The
	// default is a cookie-jar fetch.Session built from Fetch.
	NewSession func() (adapter.Session, error)
	Fetch      fetch.Options

	// Analyzer runs the enrichment pass.
	Analyzer nlp.Analyzer
	// Extractor parses scraped pages. When nil the site's own extractor is
	// used if it has one, the default HTML extractor otherwise.
	Extractor extract.Extractor
}

// Manager drives the passes of one site.
type Manager struct {
	site  adapter.Site
	opts  Options
	log   logger.Logger
	store *store.Store

	ownStore bool
	closed   bool

	extractor extract.Extractor
	// seen holds scraped fields reported as new during this manager's life.
	seen map[string]bool
}

type extractorProvider interface {
	Extractor() extract.Extractor
}

// Open connects the store and returns a manager for site.
func Open(site adapter.Site, opts Options) (*Manager, error) {
	if site == nil {
		return nil, fmt.Errorf("%w: nil site", ErrUnsupported)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	m := &Manager{
		site:  site,
		opts:  opts,
		log:   opts.Logger.With(logger.String("site", site.Name())),
		store: opts.Store,
		seen:  make(map[string]bool),
	}

	if m.store == nil {
		if opts.DBPath == "" {
			return nil, ErrNoStore
		}
		interval := opts.SaveInterval
		switch {
		case interval == 0:
			interval = store.DefaultSaveInterval
		case interval < 0:
			interval = 0
		}
		s, err := store.Open(opts.DBPath, store.Options{SaveInterval: interval, Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
		m.store = s
		m.ownStore = true
	}

	switch {
	case opts.Extractor != nil:
		m.extractor = opts.Extractor
	default:
		if p, ok := site.(extractorProvider); ok && p.Extractor() != nil {
			m.extractor = p.Extractor()
		} else {
			m.extractor = extract.New(extract.Config{})
		}
	}
	return m, nil
}

// Store returns the store the manager works on.
func (m *Manager) Store() *store.Store {
	return m.store
}

// Site returns the managed site.
func (m *Manager) Site() adapter.Site {
	return m.site
}

// Close force-saves and closes the store if the manager opened it. It is
// safe to call more than once.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if !m.ownStore {
		return nil
	}
	return m.store.Close()
}

// pass is one run of a driver, with its own ID in logs and rows.
type pass struct {
	id  string
	log logger.Logger
}

func (m *Manager) begin(name string) pass {
	id := uuid.NewString()
	return pass{
		id:  id,
		log: m.log.With(logger.String("pass", name), logger.String("run_id", id)),
	}
}

// save writes table and then the index, both gated by the save interval.
func (m *Manager) save(table store.Table) error {
	if table != store.Indexed {
		if _, err := m.store.Save(table, store.Append, false); err != nil {
			return err
		}
	}
	_, err := m.store.Save(store.Indexed, store.Replace, false)
	return err
}
