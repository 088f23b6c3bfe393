// Package store keeps the crawl state of one archive database: the index of
// discovered articles, the scraped article fields and the NLP results.
//
// The Indexed relation lives in memory for the whole session and is written
// back in full; the other two are append-only and buffered until Save.
// A Store is not safe for concurrent use.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pevans/newsarchive/logger"
)

var (
	ErrInvalidTable   = errors.New("invalid table for this operation")
	ErrInvalidMode    = errors.New("invalid save mode for this table")
	ErrUnknownURL     = errors.New("url is not indexed")
	ErrAlreadyDone    = errors.New("url already has a row in this table")
	ErrPublicConflict = errors.New("public flag already set to a different value")
	ErrSchemaMismatch = errors.New("table schema does not match row")
	ErrMissingURL     = errors.New("row has no URL")
	ErrClosed         = errors.New("store is closed")
)

// DefaultSaveInterval is the minimum time between two non-forced writes of
// the same table.
const DefaultSaveInterval = 60 * time.Second

// Article is one row of the Indexed relation.
type Article struct {
	URL              string
	NewspaperID      string
	DateIndexed      time.Time
	PubDateIndexPage *time.Time
	Edition          string
	// Public is nil until the scrape pass has classified the article.
	Public    *bool
	Scraped   bool
	Processed bool
}

// Row is one open-schema row of the Scraped or Processed relation, keyed by
// column name. It must carry a URL.
type Row map[string]any

// Options tune a Store.
type Options struct {
	// SaveInterval gates non-forced saves. Zero writes on every Save call.
	SaveInterval time.Duration
	Logger       logger.Logger
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Store is an open archive database.
type Store struct {
	db   *sqlx.DB
	path string
	log  logger.Logger
	now  func() time.Time

	saveInterval time.Duration
	lastSave     map[Table]time.Time

	articles []*Article
	byURL    map[string]*Article
	dirty    bool

	columns map[Table]*columnSet
	pending map[Table][]Row

	// orphans holds URLs with a Scraped or Processed row on disk but no
	// Indexed row, left by a crash between two saves.
	orphans map[string]orphan
}

type orphan struct {
	scraped   bool
	processed bool
}

// Open connects to the database at path, creating the tables if needed, and
// loads the Indexed relation into memory.
func Open(path string, opts Options) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:           db,
		path:         path,
		log:          opts.Logger,
		now:          opts.Now,
		saveInterval: opts.SaveInterval,
		lastSave:     make(map[Table]time.Time),
		byURL:        make(map[string]*Article),
		columns:      make(map[Table]*columnSet),
		pending:      make(map[Table][]Row),
		orphans:      make(map[string]orphan),
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	for _, schema := range []string{indexedSchema, scrapedSchema, processedSchema} {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

type indexedRecord struct {
	URL              string         `db:"URL"`
	NewspaperID      string         `db:"NewspaperID"`
	DateIndexed      string         `db:"DateIndexed"`
	PubDateIndexPage sql.NullString `db:"PubDateIndexPage"`
	Edition          sql.NullString `db:"Edition"`
	Public           sql.NullBool   `db:"Public"`
}

func (s *Store) load() error {
	var records []indexedRecord
	err := s.db.Select(&records, `
		SELECT URL, NewspaperID, DateIndexed, PubDateIndexPage, Edition, Public
		FROM tblArticlesIndexed ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("failed to load indexed articles: %w", err)
	}

	for _, rec := range records {
		a := &Article{URL: rec.URL, NewspaperID: rec.NewspaperID, Edition: rec.Edition.String}
		if a.DateIndexed, err = parseTime(rec.DateIndexed); err != nil {
			return err
		}
		if rec.PubDateIndexPage.Valid {
			t, err := parseTime(rec.PubDateIndexPage.String)
			if err != nil {
				return err
			}
			a.PubDateIndexPage = &t
		}
		if rec.Public.Valid {
			public := rec.Public.Bool
			a.Public = &public
		}
		s.articles = append(s.articles, a)
		s.byURL[a.URL] = a
	}

	for _, table := range []Table{Scraped, Processed} {
		cols, err := loadColumns(s.db, table)
		if err != nil {
			return err
		}
		s.columns[table] = cols

		var urls []string
		if err := s.db.Select(&urls, fmt.Sprintf("SELECT URL FROM %s", table)); err != nil {
			return fmt.Errorf("failed to load urls of %s: %w", table, err)
		}
		for _, u := range urls {
			a, ok := s.byURL[u]
			if !ok {
				o := s.orphans[u]
				if table == Scraped {
					o.scraped = true
				} else {
					o.processed = true
				}
				s.orphans[u] = o
				continue
			}
			if table == Scraped {
				a.Scraped = true
			} else {
				a.Processed = true
			}
		}
	}

	// A public article without a scraped row lost its buffered row in a
	// crash. Reclassify it so the public pass fetches it again.
	for _, a := range s.articles {
		if a.Public != nil && *a.Public && !a.Scraped {
			s.log.Warn("resetting public flag of article without scraped row",
				logger.String("url", a.URL))
			a.Public = nil
			s.dirty = true
		}
	}

	if len(s.orphans) > 0 {
		s.log.Warn("found rows of articles missing from the index",
			logger.Int("urls", len(s.orphans)))
	}

	s.log.Debug("store loaded",
		logger.String("path", s.path),
		logger.Int("indexed", len(s.articles)))
	return nil
}

// Path returns the database file the store was opened from.
func (s *Store) Path() string {
	return s.path
}

// RecordIndexed adds the articles whose URL is not indexed yet and returns
// how many were added. Duplicates are ignored, including duplicates within
// the same call. An article that already has a Scraped or Processed row
// gets its flags from those rows.
func (s *Store) RecordIndexed(articles ...Article) int {
	added := 0
	for _, a := range articles {
		if a.URL == "" {
			continue
		}
		if _, ok := s.byURL[a.URL]; ok {
			continue
		}
		a := a
		if a.DateIndexed.IsZero() {
			a.DateIndexed = s.now()
		}
		a.DateIndexed = a.DateIndexed.UTC()
		if a.PubDateIndexPage != nil {
			t := a.PubDateIndexPage.UTC()
			a.PubDateIndexPage = &t
		}
		o := s.orphans[a.URL]
		a.Scraped, a.Processed = o.scraped, o.processed
		delete(s.orphans, a.URL)
		s.articles = append(s.articles, &a)
		s.byURL[a.URL] = &a
		added++
	}
	if added > 0 {
		s.dirty = true
	}
	return added
}

// Has reports whether url is indexed.
func (s *Store) Has(url string) bool {
	_, ok := s.byURL[url]
	return ok
}

// Article returns a copy of the indexed article for url.
func (s *Store) Article(url string) (Article, bool) {
	a, ok := s.byURL[url]
	if !ok {
		return Article{}, false
	}
	return *a, true
}

// Articles returns copies of the indexed articles of newspaperID, in
// insertion order, for which match returns true. A nil match keeps all. An
// empty newspaperID selects every newspaper.
func (s *Store) Articles(newspaperID string, match func(Article) bool) []Article {
	var out []Article
	for _, a := range s.articles {
		if newspaperID != "" && a.NewspaperID != newspaperID {
			continue
		}
		if match != nil && !match(*a) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// PubDates returns the index-page publication times of newspaperID.
func (s *Store) PubDates(newspaperID string) []time.Time {
	var out []time.Time
	for _, a := range s.articles {
		if a.NewspaperID == newspaperID && a.PubDateIndexPage != nil {
			out = append(out, *a.PubDateIndexPage)
		}
	}
	return out
}

// Editions returns the distinct edition labels indexed for newspaperID.
func (s *Store) Editions(newspaperID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range s.articles {
		if a.NewspaperID != newspaperID || a.Edition == "" || seen[a.Edition] {
			continue
		}
		seen[a.Edition] = true
		out = append(out, a.Edition)
	}
	return out
}

// Newspapers returns the distinct newspaper IDs in the index.
func (s *Store) Newspapers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range s.articles {
		if !seen[a.NewspaperID] {
			seen[a.NewspaperID] = true
			out = append(out, a.NewspaperID)
		}
	}
	sort.Strings(out)
	return out
}

// MarkPublic records whether the article at url is public. The flag is
// written once; setting the same value again is a no-op.
func (s *Store) MarkPublic(url string, public bool) error {
	a, ok := s.byURL[url]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownURL, url)
	}
	if a.Public != nil {
		if *a.Public != public {
			return fmt.Errorf("%w: %s", ErrPublicConflict, url)
		}
		return nil
	}
	a.Public = &public
	s.dirty = true
	return nil
}

// AppendScraped buffers a scraped row and marks its article as scraped.
func (s *Store) AppendScraped(row Row) error {
	return s.appendRow(Scraped, ColDateScraped, row)
}

// AppendProcessed buffers an NLP row and marks its article as processed.
func (s *Store) AppendProcessed(row Row) error {
	return s.appendRow(Processed, ColDateProcessed, row)
}

func (s *Store) appendRow(table Table, stampCol string, row Row) error {
	url, _ := row[ColURL].(string)
	if url == "" {
		return ErrMissingURL
	}
	a, ok := s.byURL[url]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownURL, url)
	}
	done := a.Scraped
	if table == Processed {
		done = a.Processed
	}
	if done {
		return fmt.Errorf("%w: %s in %s", ErrAlreadyDone, url, table)
	}

	cp := make(Row, len(row)+1)
	for k, v := range row {
		cp[k] = v
	}
	if _, ok := cp[stampCol]; !ok {
		cp[stampCol] = s.now().UTC()
	}
	s.pending[table] = append(s.pending[table], cp)

	if table == Scraped {
		a.Scraped = true
	} else {
		a.Processed = true
	}
	s.dirty = true
	return nil
}

// Pending returns the number of buffered rows for table.
func (s *Store) Pending(table Table) int {
	return len(s.pending[table])
}

// HasColumn reports whether table already has a column called name.
func (s *Store) HasColumn(table Table, name string) bool {
	cols, ok := s.columns[table]
	return ok && cols.has(name)
}

// Columns returns the known columns of an open-schema table.
func (s *Store) Columns(table Table) []string {
	cols, ok := s.columns[table]
	if !ok {
		return nil
	}
	return append([]string(nil), cols.names...)
}

// ScrapedRow returns the scraped row for url, looking at buffered rows
// first. It reports false when the article has no scraped row.
func (s *Store) ScrapedRow(url string) (Row, bool, error) {
	for _, row := range s.pending[Scraped] {
		if row[ColURL] == url {
			return row, true, nil
		}
	}
	if s.db == nil {
		return nil, false, ErrClosed
	}

	raw := make(map[string]any)
	err := s.db.QueryRowx(fmt.Sprintf("SELECT * FROM %s WHERE URL = ?", Scraped), url).MapScan(raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read scraped row: %w", err)
	}

	cols := s.columns[Scraped]
	row := make(Row, len(raw))
	for k, v := range raw {
		row[k] = fromDBValue(v, cols.types[k])
	}
	return row, true, nil
}

// Counts summarizes the index of one newspaper.
type Counts struct {
	Indexed   int
	Public    int
	Premium   int
	Unknown   int
	Scraped   int
	Processed int
}

// Count returns the counters of newspaperID, or of every newspaper when
// newspaperID is empty.
func (s *Store) Count(newspaperID string) Counts {
	var c Counts
	for _, a := range s.articles {
		if newspaperID != "" && a.NewspaperID != newspaperID {
			continue
		}
		c.Indexed++
		switch {
		case a.Public == nil:
			c.Unknown++
		case *a.Public:
			c.Public++
		default:
			c.Premium++
		}
		if a.Scraped {
			c.Scraped++
		}
		if a.Processed {
			c.Processed++
		}
	}
	return c
}

func checkMode(table Table, mode Mode) error {
	switch table {
	case Indexed:
		if mode != Replace {
			return fmt.Errorf("%w: %s supports only replace, got %s", ErrInvalidMode, table, mode)
		}
	case Scraped, Processed:
		if mode != Append {
			return fmt.Errorf("%w: %s supports only append, got %s", ErrInvalidMode, table, mode)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}

// Save writes table to disk if force is set or the save interval has passed
// since its last write. It returns whether anything was written. Indexed
// must be saved with Replace, the other tables with Append.
func (s *Store) Save(table Table, mode Mode, force bool) (bool, error) {
	if err := checkMode(table, mode); err != nil {
		return false, err
	}
	if s.db == nil {
		return false, ErrClosed
	}
	if !force && s.now().Sub(s.lastSave[table]) < s.saveInterval {
		return false, nil
	}

	var err error
	switch table {
	case Indexed:
		if !s.dirty {
			return false, nil
		}
		err = shielded(s.replaceIndexed)
	default:
		if len(s.pending[table]) == 0 {
			return false, nil
		}
		err = shielded(func() error { return s.appendPending(table) })
	}
	if err != nil {
		return false, err
	}

	s.lastSave[table] = s.now()
	return true, nil
}

func (s *Store) replaceIndexed() error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tblArticlesIndexed"); err != nil {
		return fmt.Errorf("failed to clear indexed articles: %w", err)
	}

	stmt, err := tx.Preparex(`
		INSERT INTO tblArticlesIndexed (
			URL, NewspaperID, DateIndexed, PubDateIndexPage, Edition,
			Public, Scraped, Processed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range s.articles {
		var pubDate, edition, public any
		if a.PubDateIndexPage != nil {
			pubDate = formatTime(*a.PubDateIndexPage)
		}
		if a.Edition != "" {
			edition = a.Edition
		}
		if a.Public != nil {
			public = *a.Public
		}
		_, err := stmt.Exec(a.URL, a.NewspaperID, formatTime(a.DateIndexed),
			pubDate, edition, public, a.Scraped, a.Processed)
		if err != nil {
			return fmt.Errorf("failed to insert indexed article %s: %w", a.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit indexed articles: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *Store) appendPending(table Table) error {
	rows := s.pending[table]

	added, err := ensureColumns(s.db, table, s.columns[table], rows)
	if err != nil {
		return err
	}
	s.logNewColumns(table, added)

	err = s.insertRows(table, rows)
	if isMissingColumn(err) {
		// Someone else changed the table under us. Reload the layout,
		// add what is missing and try exactly once more.
		s.log.Warn("column missing on insert, refreshing schema",
			logger.String("table", string(table)), logger.Error(err))
		cols, lerr := loadColumns(s.db, table)
		if lerr != nil {
			return lerr
		}
		s.columns[table] = cols
		added, lerr := ensureColumns(s.db, table, cols, rows)
		if lerr != nil {
			return fmt.Errorf("%w: %w", ErrSchemaMismatch, lerr)
		}
		s.logNewColumns(table, added)
		if err = s.insertRows(table, rows); err != nil {
			return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
		}
	}
	if err != nil {
		return err
	}

	s.pending[table] = nil
	return nil
}

func (s *Store) logNewColumns(table Table, added []string) {
	if len(added) > 0 {
		s.log.Info("added columns",
			logger.String("table", string(table)), logger.Strings("columns", added))
	}
}

func (s *Store) insertRows(table Table, rows []Row) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		values := make(map[string]any, len(row))
		for k, v := range row {
			dbv, err := toDBValue(v)
			if err != nil {
				return fmt.Errorf("column %s of %v: %w", k, row[ColURL], err)
			}
			values[quoteIdent(k)] = dbv
		}
		query, args, err := sq.Insert(string(table)).SetMap(values).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert: %w", err)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table, err)
	}
	return nil
}

// Close force-saves every table and closes the database. Calling Close on a
// closed store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	var errs []error
	if _, err := s.Save(Indexed, Replace, true); err != nil {
		errs = append(errs, err)
	}
	for _, table := range []Table{Scraped, Processed} {
		if _, err := s.Save(table, Append, true); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	s.db = nil
	return errors.Join(errs...)
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
