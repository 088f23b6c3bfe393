package manager

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/store"
	"github.com/pevans/newsarchive/workunit"
)

var errBoom = errors.New("boom")

type page struct {
	html   string
	public bool
	err    error
}

// fakeSite is an in-memory publisher. Wrap it in dateSite or editionSite to
// give it an archive.
type fakeSite struct {
	pages map[string]page

	days     map[string][]adapter.Listing
	editions map[string][]string
	// failures makes the next n listings of a unit fail.
	failures map[string]int
	listed   []string

	loginOK  bool
	loginErr error
	logins   int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:    make(map[string]page),
		days:     make(map[string][]adapter.Listing),
		editions: make(map[string][]string),
		failures: make(map[string]int),
		loginOK:  true,
	}
}

func (f *fakeSite) Name() string { return "de_fake" }

func (f *fakeSite) Location() *time.Location { return time.UTC }

func (f *fakeSite) FetchAndClassify(ctx context.Context, rawURL string) ([]byte, bool, error) {
	p, ok := f.pages[rawURL]
	if !ok {
		return nil, false, nil
	}
	if p.err != nil {
		return nil, false, p.err
	}
	if p.html == "" {
		return nil, p.public, nil
	}
	return []byte(p.html), p.public, nil
}

func (f *fakeSite) Login(ctx context.Context, sess adapter.Session, creds adapter.Credentials) (bool, error) {
	f.logins++
	if f.loginErr != nil {
		return false, f.loginErr
	}
	return f.loginOK, nil
}

func (f *fakeSite) unit(key string) error {
	f.listed = append(f.listed, key)
	if f.failures[key] > 0 {
		f.failures[key]--
		return errBoom
	}
	return nil
}

type dateSite struct{ *fakeSite }

func (d dateSite) ListByDate(ctx context.Context, day time.Time) ([]adapter.Listing, error) {
	key := day.Format("2006-01-02")
	if err := d.unit(key); err != nil {
		return nil, err
	}
	return d.days[key], nil
}

type editionSite struct{ *fakeSite }

func (e editionSite) ListByEdition(ctx context.Context, ed workunit.Edition) ([]string, error) {
	if err := e.unit(ed.String()); err != nil {
		return nil, err
	}
	return e.editions[ed.String()], nil
}

func (e editionSite) EditionsPerYear() int { return 55 }

type fakeSession struct {
	pages  map[string]string
	gets   []string
	closed bool
}

func (s *fakeSession) Get(ctx context.Context, rawURL string) ([]byte, error) {
	s.gets = append(s.gets, rawURL)
	body, ok := s.pages[rawURL]
	if !ok {
		return nil, errBoom
	}
	return []byte(body), nil
}

func (s *fakeSession) PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	return nil, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func createTestManager(t *testing.T, site adapter.Site, opts Options) *Manager {
	t.Helper()
	if opts.DBPath == "" && opts.Store == nil {
		opts.DBPath = filepath.Join(t.TempDir(), "archive.db")
	}
	if opts.SaveInterval == 0 {
		opts.SaveInterval = time.Nanosecond
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	m, err := Open(site, opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func utc(y int, mo time.Month, d, h int) time.Time {
	return time.Date(y, mo, d, h, 0, 0, 0, time.UTC)
}

// TestOpen_RequiresStore verifies a manager needs a path or a store
func TestOpen_RequiresStore(t *testing.T) {
	_, err := Open(dateSite{newFakeSite()}, Options{})
	assert.ErrorIs(t, err, ErrNoStore)
}

// TestClose_KeepsSharedStore verifies injected stores stay open
func TestClose_KeepsSharedStore(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "shared.db"), store.Options{})
	require.NoError(t, err)
	defer s.Close()

	m := createTestManager(t, dateSite{newFakeSite()}, Options{Store: s})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = s.Save(store.Indexed, store.Replace, true)
	assert.NoError(t, err, "shared store is still usable")
}

// TestOpen_SaveInterval verifies the default gate and the negative value
// that writes on every save
func TestOpen_SaveInterval(t *testing.T) {
	indexTwice := func(opts Options) *store.Store {
		m := createTestManager(t, dateSite{newFakeSite()}, opts)
		for _, u := range []string{"https://news.example/1", "https://news.example/2"} {
			m.Store().RecordIndexed(store.Article{URL: u, NewspaperID: "de_fake"})
			require.NoError(t, m.save(store.Indexed))
		}
		s, err := store.Open(opts.DBPath, store.Options{})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}

	gated := indexTwice(Options{
		DBPath:       filepath.Join(t.TempDir(), "gated.db"),
		SaveInterval: store.DefaultSaveInterval,
	})
	assert.True(t, gated.Has("https://news.example/1"))
	assert.False(t, gated.Has("https://news.example/2"), "second save is inside the interval")

	every := indexTwice(Options{
		DBPath:       filepath.Join(t.TempDir(), "every.db"),
		SaveInterval: -1,
	})
	assert.True(t, every.Has("https://news.example/2"))
}

// TestIndex_Idempotent verifies repeated runs do not duplicate work
func TestIndex_Idempotent(t *testing.T) {
	site := newFakeSite()
	site.days["2020-01-01"] = []adapter.Listing{
		{URL: "https://news.example/a", Published: utc(2020, 1, 1, 8)},
		{URL: "https://news.example/a?ref=teaser", Published: utc(2020, 1, 1, 8)},
		{URL: "https://news.example/b", Published: utc(2020, 1, 1, 9)},
	}
	site.days["2020-01-02"] = []adapter.Listing{
		{URL: "https://news.example/b", Published: utc(2020, 1, 2, 9)},
		{URL: "https://news.example/c", Published: utc(2020, 1, 2, 10)},
	}
	m := createTestManager(t, dateSite{site}, Options{})
	ctx := context.Background()
	from, to := utc(2020, 1, 1, 0), utc(2020, 1, 2, 0)

	report, err := m.Index(ctx, from, to, true)
	require.NoError(t, err)
	assert.Equal(t, &IndexReport{Units: 2, Pending: 2, Done: 2, Seen: 4, Added: 3}, report)
	assert.Equal(t, 3, m.Store().Count("").Indexed)

	a, ok := m.Store().Article("https://news.example/a")
	require.True(t, ok)
	assert.Equal(t, "de_fake", a.NewspaperID)
	require.NotNil(t, a.PubDateIndexPage)
	assert.True(t, utc(2020, 1, 1, 8).Equal(*a.PubDateIndexPage))
	assert.Nil(t, a.Public)

	b, _ := m.Store().Article("https://news.example/b")
	assert.True(t, utc(2020, 1, 1, 9).Equal(*b.PubDateIndexPage), "first listing wins")

	report, err = m.Index(ctx, from, to, true)
	require.NoError(t, err)
	assert.True(t, report.NothingToDo)
	assert.Len(t, site.listed, 2, "covered days are not listed again")

	report, err = m.Index(ctx, from, to, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Done)
	assert.Equal(t, 0, report.Added)
	assert.Equal(t, 3, m.Store().Count("").Indexed)
}

// TestIndex_DropsQueryAndFragment verifies links differing only after the
// path are one article
func TestIndex_DropsQueryAndFragment(t *testing.T) {
	site := newFakeSite()
	site.days["2020-01-01"] = []adapter.Listing{
		{URL: "https://news.example/a", Published: utc(2020, 1, 1, 8)},
		{URL: "https://news.example/a#comments", Published: utc(2020, 1, 1, 8)},
		{URL: "https://news.example/a?ref=top#video", Published: utc(2020, 1, 1, 8)},
		{URL: " https://news.example/b# ", Published: utc(2020, 1, 1, 9)},
	}
	m := createTestManager(t, dateSite{site}, Options{})

	report, err := m.Index(context.Background(), utc(2020, 1, 1, 0), utc(2020, 1, 1, 0), true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Added)
	assert.True(t, m.Store().Has("https://news.example/a"))
	assert.True(t, m.Store().Has("https://news.example/b"))
}

// TestArticleURL verifies only the query and fragment are cut
func TestArticleURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://news.example/a", "https://news.example/a"},
		{"https://news.example/a?x=1", "https://news.example/a"},
		{"https://news.example/a#top", "https://news.example/a"},
		{"https://news.example/a?#", "https://news.example/a"},
		{"  https://news.example/a?x=1#top\n", "https://news.example/a"},
		{"https://news.example/a#frag?x=1", "https://news.example/a"},
		{"https://news.example/%C3%A4rger", "https://news.example/%C3%A4rger"},
		{"https://news.example/ärger?x", "https://news.example/ärger"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, articleURL(tt.in), tt.in)
	}
}

// TestIndex_Resume verifies that units saved before a crash are skipped
func TestIndex_Resume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	site := newFakeSite()
	site.days["2020-01-01"] = []adapter.Listing{{URL: "https://news.example/a", Published: utc(2020, 1, 1, 8)}}
	site.days["2020-01-02"] = []adapter.Listing{{URL: "https://news.example/b", Published: utc(2020, 1, 2, 8)}}
	site.failures["2020-01-02"] = 1

	m := createTestManager(t, dateSite{site}, Options{DBPath: path})
	_, err := m.Index(context.Background(), utc(2020, 1, 1, 0), utc(2020, 1, 2, 0), true)
	require.ErrorIs(t, err, errBoom)

	// A second process sees what was saved before the failure.
	s, err := store.Open(path, store.Options{})
	require.NoError(t, err)
	assert.True(t, s.Has("https://news.example/a"))
	assert.False(t, s.Has("https://news.example/b"))
	require.NoError(t, s.Close())
	require.NoError(t, m.Close())

	site.listed = nil
	m = createTestManager(t, dateSite{site}, Options{DBPath: path})
	report, err := m.Index(context.Background(), utc(2020, 1, 1, 0), utc(2020, 1, 2, 0), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-01-02"}, site.listed)
	assert.Equal(t, 1, report.Added)
}

// TestIndex_RetryContinuesWithFailedUnit verifies whole-call retry
func TestIndex_RetryContinuesWithFailedUnit(t *testing.T) {
	site := newFakeSite()
	site.days["2020-01-01"] = []adapter.Listing{{URL: "https://news.example/a", Published: utc(2020, 1, 1, 8)}}
	site.days["2020-01-02"] = []adapter.Listing{{URL: "https://news.example/b", Published: utc(2020, 1, 2, 8)}}
	site.failures["2020-01-02"] = 2

	m := createTestManager(t, dateSite{site}, Options{RetryOnError: true})
	report, err := m.Index(context.Background(), utc(2020, 1, 1, 0), utc(2020, 1, 2, 0), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"2020-01-01", "2020-01-02", "2020-01-02", "2020-01-02"}, site.listed)
	assert.Equal(t, 2, report.Done)
	assert.Equal(t, 2, report.Added)
}

// TestIndex_RejectsNaiveTimestamp verifies zone-less times fail the unit
func TestIndex_RejectsNaiveTimestamp(t *testing.T) {
	for name, published := range map[string]time.Time{
		"local": time.Date(2020, 1, 1, 8, 0, 0, 0, time.Local),
		"zero":  {},
	} {
		t.Run(name, func(t *testing.T) {
			site := newFakeSite()
			site.days["2020-01-01"] = []adapter.Listing{
				{URL: "https://news.example/ok", Published: utc(2020, 1, 1, 8)},
				{URL: "https://news.example/naive", Published: published},
			}
			m := createTestManager(t, dateSite{site}, Options{RetryOnError: true})

			_, err := m.Index(context.Background(), utc(2020, 1, 1, 0), utc(2020, 1, 1, 0), true)
			assert.ErrorIs(t, err, adapter.ErrNaiveTimestamp)
			assert.Len(t, site.listed, 1, "not retried")
			assert.Equal(t, 0, m.Store().Count("").Indexed, "nothing from the day is recorded")
		})
	}
}

// TestIndex_ConvertsToUTC verifies zoned times are stored in UTC
func TestIndex_ConvertsToUTC(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	site := newFakeSite()
	site.days["2020-01-01"] = []adapter.Listing{
		{URL: "https://news.example/a", Published: time.Date(2020, 1, 1, 10, 0, 0, 0, berlin)},
	}
	m := createTestManager(t, dateSite{site}, Options{})

	_, err = m.Index(context.Background(), utc(2020, 1, 1, 0), utc(2020, 1, 1, 0), true)
	require.NoError(t, err)

	a, _ := m.Store().Article("https://news.example/a")
	assert.Equal(t, time.UTC, a.PubDateIndexPage.Location())
	assert.Equal(t, 9, a.PubDateIndexPage.Hour())
}

// TestIndex_InvalidRange verifies bad ranges fail before any listing
func TestIndex_InvalidRange(t *testing.T) {
	site := newFakeSite()
	m := createTestManager(t, dateSite{site}, Options{RetryOnError: true})

	_, err := m.Index(context.Background(), utc(2020, 1, 2, 0), utc(2020, 1, 1, 0), true)
	assert.ErrorIs(t, err, workunit.ErrInvalidRange)
	assert.Empty(t, site.listed)
}

// TestIndex_Unsupported verifies sites without the archive kind are refused
func TestIndex_Unsupported(t *testing.T) {
	m := createTestManager(t, editionSite{newFakeSite()}, Options{})
	_, err := m.Index(context.Background(), utc(2020, 1, 1, 0), utc(2020, 1, 1, 0), true)
	assert.ErrorIs(t, err, ErrUnsupported)

	m = createTestManager(t, dateSite{newFakeSite()}, Options{})
	_, err = m.IndexByEdition(context.Background(), "2020-1", "2020-2", 0, true)
	assert.ErrorIs(t, err, ErrUnsupported)
}

// TestIndexByEdition verifies edition ranges and their coverage
func TestIndexByEdition(t *testing.T) {
	site := newFakeSite()
	site.editions["2020-1"] = []string{"https://weekly.example/2020/01/a"}
	site.editions["2020-2"] = []string{"https://weekly.example/2020/02/a", "https://weekly.example/2020/02/a"}
	site.editions["2020-3"] = []string{"https://weekly.example/2020/03/a?page=2"}
	m := createTestManager(t, editionSite{site}, Options{})
	ctx := context.Background()

	report, err := m.IndexByEdition(ctx, "2020-1", "2020-3", 0, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-1", "2020-2", "2020-3"}, site.listed)
	assert.Equal(t, 3, report.Done)
	assert.Equal(t, 3, report.Added)

	a, ok := m.Store().Article("https://weekly.example/2020/03/a")
	require.True(t, ok)
	assert.Equal(t, "2020-3", a.Edition)
	assert.Nil(t, a.PubDateIndexPage)

	report, err = m.IndexByEdition(ctx, "2020-1", "2020-3", 0, true)
	require.NoError(t, err)
	assert.True(t, report.NothingToDo)

	_, err = m.IndexByEdition(ctx, "2020-56", "2021-1", 0, true)
	assert.ErrorIs(t, err, workunit.ErrInvalidEdition)
	_, err = m.IndexByEdition(ctx, "2020", "2021-1", 0, true)
	assert.ErrorIs(t, err, workunit.ErrInvalidEdition)
}

// TestRun_Retries verifies transient errors are retried until success
func TestRun_Retries(t *testing.T) {
	m := createTestManager(t, dateSite{newFakeSite()}, Options{RetryOnError: true})
	calls := 0
	err := m.run(context.Background(), m.begin("test"), func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// TestRun_NoRetry verifies the first error is returned without retry
func TestRun_NoRetry(t *testing.T) {
	m := createTestManager(t, dateSite{newFakeSite()}, Options{})
	calls := 0
	err := m.run(context.Background(), m.begin("test"), func() error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

// TestRun_PermanentErrors verifies permanent errors stop the retry loop
func TestRun_PermanentErrors(t *testing.T) {
	m := createTestManager(t, dateSite{newFakeSite()}, Options{RetryOnError: true})
	calls := 0
	err := m.run(context.Background(), m.begin("test"), func() error {
		calls++
		return store.ErrSchemaMismatch
	})
	assert.ErrorIs(t, err, store.ErrSchemaMismatch)
	assert.Equal(t, 1, calls)
}

// TestRun_CancelAbortsWait verifies cancellation ends the retry wait
func TestRun_CancelAbortsWait(t *testing.T) {
	m := createTestManager(t, dateSite{newFakeSite()}, Options{RetryOnError: true, RetryDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := m.run(ctx, m.begin("test"), func() error { return errBoom })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

// TestIsPermanent verifies wrapped sentinels are recognized
func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(errors.Join(errBoom, adapter.ErrNaiveTimestamp)))
	assert.True(t, IsPermanent(context.Canceled))
	assert.True(t, IsPermanent(ErrMissingCredentials))
	assert.False(t, IsPermanent(errBoom))
}
