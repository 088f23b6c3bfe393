package sites

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/fetch"
	"github.com/pevans/newsarchive/workunit"
)

const indexPage = `<html><body>
<section id="list">
  <div class="teaser"><a href="/politik/a-1">A</a><span>2. Januar, 14.30 Uhr</span></div>
  <div class="teaser"><h3>Anzeige</h3><a href="/ad">Ad</a><span>2. Januar, 15.00 Uhr</span></div>
  <div class="teaser"><a href="https://other.example/x">X</a><span>2. Januar, 16.00 Uhr</span></div>
  <div class="teaser"><a href="/politik/b-2?ref=list">B</a><span>kaputt</span></div>
</section>
</body></html>`

func newServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range routes {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dateConfig(srv *httptest.Server) Config {
	return Config{
		Name:       "de_test",
		Timezone:   "Europe/Berlin",
		ArchiveURL: srv.URL + "/archiv/{date}.html",
		DateLayout: "02.01.2006",
		List: ListConfig{
			ItemSelector:      "div.teaser",
			SkipSelector:      "h3",
			URLPrefix:         srv.URL,
			PublishedSelector: "span",
			PublishedPattern:  `\d{1,2}\.\s\S+,\s\d{1,2}\.\d{2}\sUhr`,
			PublishedLayout:   "2. January, 15.04 Uhr",
			GermanMonths:      true,
		},
	}
}

// TestDateSite_ListByDate verifies links, filters and publication times
func TestDateSite_ListByDate(t *testing.T) {
	srv := newServer(t, map[string]string{"/archiv/02.01.2020.html": indexPage})
	site, err := New(dateConfig(srv), fetch.New(fetch.Options{}), nil)
	require.NoError(t, err)

	berlin := adapter.Location(site)
	day := time.Date(2020, 1, 2, 0, 0, 0, 0, berlin)
	listings, err := site.(adapter.DateLister).ListByDate(context.Background(), day)
	require.NoError(t, err)

	require.Len(t, listings, 2)
	assert.Equal(t, srv.URL+"/politik/a-1", listings[0].URL)
	assert.Equal(t, time.Date(2020, 1, 2, 14, 30, 0, 0, berlin), listings[0].Published)
	assert.False(t, adapter.IsNaive(listings[0].Published))

	assert.Equal(t, srv.URL+"/politik/b-2?ref=list", listings[1].URL, "query strings are left to the driver")
	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), listings[1].Published,
		"unreadable times fall back to midnight UTC")
}

// TestEditionSite_ListByEdition verifies the edition URL template
func TestEditionSite_ListByEdition(t *testing.T) {
	srv := newServer(t, map[string]string{
		"/2020/03/index": `<article><a href="/2020/03/a">a</a></article><article><a href="https://elsewhere/b">b</a></article>`,
	})
	cfg := Config{
		Name:            "de_weekly",
		Kind:            KindEdition,
		ArchiveURL:      srv.URL + "/{year}/{edition2}/index",
		EditionsPerYear: 55,
		List:            ListConfig{ItemSelector: "article", URLPrefix: srv.URL},
	}
	site, err := New(cfg, fetch.New(fetch.Options{}), nil)
	require.NoError(t, err)

	lister := site.(adapter.EditionLister)
	assert.Equal(t, 55, lister.EditionsPerYear())

	urls, err := lister.ListByEdition(context.Background(), workunit.Edition{Year: 2020, Number: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/2020/03/a"}, urls)
}

// TestFetchAndClassify verifies the public, premium and ambiguous outcomes
func TestFetchAndClassify(t *testing.T) {
	srv := newServer(t, map[string]string{
		"/public":  `<header class="intro"><h1>T</h1></header><p>text</p>`,
		"/premium": `<header class="intro"><svg id="plus"></svg></header>`,
		"/odd":     `<div>no header here</div>`,
	})
	cfg := dateConfig(srv)
	cfg.Article = ArticleConfig{
		RecognizedSelector: "header.intro",
		PremiumSelector:    "header.intro svg#plus",
	}
	site, err := New(cfg, fetch.New(fetch.Options{}), nil)
	require.NoError(t, err)
	ctx := context.Background()

	html, public, err := site.FetchAndClassify(ctx, srv.URL+"/public")
	require.NoError(t, err)
	assert.True(t, public)
	assert.Contains(t, string(html), "text")

	_, public, err = site.FetchAndClassify(ctx, srv.URL+"/premium")
	require.NoError(t, err)
	assert.False(t, public)

	html, public, err = site.FetchAndClassify(ctx, srv.URL+"/odd")
	require.NoError(t, err)
	assert.False(t, public)
	assert.Nil(t, html)

	_, _, err = site.FetchAndClassify(ctx, srv.URL+"/missing")
	assert.Error(t, err)
}

// TestFetchAndClassify_PremiumURL verifies redirect-based paywall
// detection
func TestFetchAndClassify_PremiumURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/story", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/story/teaser?reduced=true", http.StatusFound)
	})
	mux.HandleFunc("/story/teaser", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>teaser</p>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := dateConfig(srv)
	cfg.Article = ArticleConfig{PremiumURLPattern: `reduced=true`}
	site, err := New(cfg, fetch.New(fetch.Options{}), nil)
	require.NoError(t, err)

	_, public, err := site.FetchAndClassify(context.Background(), srv.URL+"/story")
	require.NoError(t, err)
	assert.False(t, public)
}

// TestFetchAndClassify_FullView verifies the single-page version is used
func TestFetchAndClassify_FullView(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p>page 1</p><a href="` + srv.URL + `/a/komplettansicht">all</a>`))
	})
	mux.HandleFunc("/a/komplettansicht", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p>page 1 and 2</p>`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := dateConfig(srv)
	cfg.Article = ArticleConfig{FullViewSuffix: "/komplettansicht", PremiumSelector: "aside#paywall"}
	site, err := New(cfg, fetch.New(fetch.Options{}), nil)
	require.NoError(t, err)

	html, public, err := site.FetchAndClassify(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.True(t, public)
	assert.Contains(t, string(html), "page 1 and 2")
}

// TestAlwaysPremium verifies sites without public articles
func TestAlwaysPremium(t *testing.T) {
	srv := newServer(t, map[string]string{"/x": "<p>x</p>"})
	cfg := dateConfig(srv)
	cfg.Article = ArticleConfig{AlwaysPremium: true}
	site, err := New(cfg, fetch.New(fetch.Options{}), nil)
	require.NoError(t, err)

	_, public, err := site.FetchAndClassify(context.Background(), srv.URL+"/x")
	require.NoError(t, err)
	assert.False(t, public)
}

// TestLogin verifies the form post and the success marker
func TestLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`<form action="/session" method="post">
				<input type="hidden" name="csrf" value="tok">
				<input name="email"><input name="pass" type="password"></form>`))
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("csrf") == "tok" && r.PostForm.Get("email") == "me" && r.PostForm.Get("pass") == "secret" {
			w.Write([]byte(`<span class="dashboard">hi</span>`))
			return
		}
		w.Write([]byte(`<p class="error">wrong</p>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := dateConfig(srv)
	cfg.Login = LoginConfig{
		URL:             srv.URL + "/login",
		UsernameField:   "email",
		PasswordField:   "pass",
		SuccessSelector: "span.dashboard",
	}
	site, err := New(cfg, fetch.New(fetch.Options{}), nil)
	require.NoError(t, err)

	sess, err := fetch.NewSession(fetch.Options{})
	require.NoError(t, err)
	defer sess.Close()

	ok, err := site.Login(context.Background(), sess, adapter.Credentials{Username: "me", Password: "secret"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = site.Login(context.Background(), sess, adapter.Credentials{Username: "me", Password: "nope"})
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestLogin_NotConfigured verifies sites without a login form fail fast
func TestLogin_NotConfigured(t *testing.T) {
	srv := newServer(t, nil)
	site, err := New(dateConfig(srv), fetch.New(fetch.Options{}), nil)
	require.NoError(t, err)

	_, err = site.Login(context.Background(), nil, adapter.Credentials{Username: "u", Password: "p"})
	assert.ErrorIs(t, err, ErrLoginNotConfigured)
}

// TestConfigValidate verifies required fields and defaults
func TestConfigValidate(t *testing.T) {
	cfg := Config{Name: "x", ArchiveURL: "https://x/{date}", List: ListConfig{ItemSelector: "a"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, KindDate, cfg.Kind)
	assert.Equal(t, "2006-01-02", cfg.DateLayout)

	bad := []Config{
		{ArchiveURL: "https://x", List: ListConfig{ItemSelector: "a"}},
		{Name: "x", List: ListConfig{ItemSelector: "a"}},
		{Name: "x", ArchiveURL: "https://x"},
		{Name: "x", Kind: "weekly", ArchiveURL: "https://x", List: ListConfig{ItemSelector: "a"}},
		{Name: "x", Kind: KindEdition, ArchiveURL: "https://x", List: ListConfig{ItemSelector: "a"}},
		{Name: "x", Timezone: "Mars/Olympus", ArchiveURL: "https://x", List: ListConfig{ItemSelector: "a"}},
		{Name: "x", ArchiveURL: "https://x", List: ListConfig{ItemSelector: "a", ExcludePattern: "("}},
	}
	for _, c := range bad {
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig, c.Name)
	}

	feed := Config{Name: "f", Kind: KindFeed, ArchiveURL: "https://x/feed"}
	assert.NoError(t, feed.Validate())
}

// TestRegister_Presets verifies every preset builds and extras override
func TestRegister_Presets(t *testing.T) {
	reg := adapter.NewRegistry()
	override := Config{Name: "de_welt", ArchiveURL: "https://example/{date}", List: ListConfig{ItemSelector: "a"}}

	require.NoError(t, Register(reg, fetch.New(fetch.Options{}), nil, override))
	assert.Len(t, reg.Names(), len(Presets()))

	zeit, err := reg.Resolve("de_zeit")
	require.NoError(t, err)
	_, ok := zeit.(adapter.EditionLister)
	assert.True(t, ok)

	welt, err := reg.Resolve("de_welt")
	require.NoError(t, err)
	assert.Equal(t, "https://example/{date}", welt.(*DateSite).Config().ArchiveURL)
}
