// Package extract turns article HTML into the flat field set stored in the
// Scraped relation.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// ErrEmptyArticle is returned when a page has neither title nor body text.
var ErrEmptyArticle = errors.New("page has no title and no text")

// Field names produced by the extractor.
const (
	FieldTitle           = "Title"
	FieldAuthors         = "Authors"
	FieldPublishDate     = "PublishDate"
	FieldMetaDescription = "MetaDescription"
	FieldMetaLang        = "MetaLang"
	FieldMetaKeywords    = "MetaKeywords"
	FieldMetaFavicon     = "MetaFavicon"
	FieldMetaCanonical   = "MetaCanonical"
	FieldMetaEncoding    = "MetaEncoding"
	FieldDomain          = "Domain"
	FieldImage           = "Image"
	FieldTags            = "Tags"
	FieldLinks           = "Links"
	FieldMovies          = "Movies"
	FieldTweets          = "Tweets"
	FieldCleanedText     = "CleanedText"
)

// Fields maps column names to extracted values.
type Fields map[string]any

// Extractor is the article parser used by the scrape driver.
type Extractor interface {
	// Extract parses html fetched from pageURL. On error the returned
	// fields hold whatever could be read before the failure.
	Extract(html []byte, pageURL string) (Fields, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(html []byte, pageURL string) (Fields, error)

func (f ExtractorFunc) Extract(html []byte, pageURL string) (Fields, error) {
	return f(html, pageURL)
}

// Config holds the selectors of the goquery extractor.
type Config struct {
	// ContentSelector locates the article body. Empty tries article, main
	// and body in that order.
	ContentSelector string
	// ExcludeSelector removes matching nodes from the body before reading
	// text, e.g. ads and teaser boxes.
	ExcludeSelector string
	// AuthorSelector overrides the default author lookup.
	AuthorSelector string
}

// HTML is the default Extractor.
type HTML struct {
	cfg Config
}

// New returns an HTML extractor for cfg.
func New(cfg Config) *HTML {
	return &HTML{cfg: cfg}
}

var boilerplate = "script, style, noscript, nav, aside, form, iframe, footer, header, figure figcaption"

// Extract implements Extractor.
func (h *HTML) Extract(html []byte, pageURL string) (Fields, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Fields{}, fmt.Errorf("invalid page URL: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Fields{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	f := Fields{FieldDomain: base.Hostname()}

	f[FieldTitle] = firstNonEmpty(
		metaContent(doc, "property", "og:title"),
		normalizeSpace(doc.Find("h1").First().Text()),
		normalizeSpace(doc.Find("title").First().Text()),
	)
	f[FieldAuthors] = h.authors(doc)
	if published := publishDate(doc); published != "" {
		f[FieldPublishDate] = published
	}
	f[FieldMetaDescription] = metaContent(doc, "name", "description")
	f[FieldMetaLang] = metaLang(doc)
	f[FieldMetaKeywords] = splitList(metaContent(doc, "name", "keywords"))
	f[FieldMetaFavicon] = resolve(base, attr(doc.Find(`link[rel~="icon"]`).First(), "href"))
	f[FieldMetaCanonical] = resolve(base, attr(doc.Find(`link[rel="canonical"]`).First(), "href"))
	f[FieldMetaEncoding] = metaEncoding(doc)

	for key, value := range opengraph(doc) {
		f[key] = value
	}

	body := h.content(doc)
	f[FieldImage] = resolve(base, firstNonEmpty(
		metaContent(doc, "property", "og:image"),
		attr(body.Find("img").First(), "src"),
	))
	f[FieldTags] = tags(doc)
	f[FieldLinks] = links(body, base)
	f[FieldMovies] = movies(body, base)
	f[FieldTweets] = tweets(doc)

	// Text is read last since excluded nodes are removed from the body.
	text := cleanedText(body, h.cfg.ExcludeSelector)
	f[FieldCleanedText] = text

	if f[FieldTitle] == "" && text == "" {
		return f, ErrEmptyArticle
	}
	return f, nil
}

func (h *HTML) authors(doc *goquery.Document) []string {
	authors := []string{}
	add := func(text string) {
		for _, a := range ParseAuthors(normalizeSpace(text)) {
			if a != "" && !containsFold(authors, a) {
				authors = append(authors, a)
			}
		}
	}

	if h.cfg.AuthorSelector != "" {
		doc.Find(h.cfg.AuthorSelector).Each(func(i int, s *goquery.Selection) {
			add(s.Text())
		})
		return authors
	}

	doc.Find(`meta[name="author"], meta[property="article:author"]`).Each(func(i int, s *goquery.Selection) {
		content := attr(s, "content")
		if !strings.HasPrefix(content, "http") {
			add(content)
		}
	})
	if len(authors) > 0 {
		return authors
	}
	doc.Find(`[rel="author"], [itemprop="author"] [itemprop="name"], [itemprop="author"]`).Each(func(i int, s *goquery.Selection) {
		if len(authors) == 0 {
			add(s.Text())
		}
	})
	return authors
}

func (h *HTML) content(doc *goquery.Document) *goquery.Selection {
	if h.cfg.ContentSelector != "" {
		if s := doc.Find(h.cfg.ContentSelector); s.Length() > 0 {
			return s.First()
		}
	}
	for _, sel := range []string{"article", "main", "body"} {
		if s := doc.Find(sel); s.Length() > 0 {
			return s.First()
		}
	}
	return doc.Selection
}

// ParseAuthors splits a byline into single names on ", " and on the
// English and German conjunctions. A leading "By" or "Von" is dropped.
func ParseAuthors(authorText string) []string {
	authorText = strings.TrimSpace(authorText)
	for _, prefix := range []string{"By ", "by ", "Von ", "von "} {
		authorText = strings.TrimPrefix(authorText, prefix)
	}
	if authorText == "" {
		return []string{}
	}

	parts := []string{authorText}
	for _, sep := range []string{", ", " and ", " und ", " & "} {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}

	authors := []string{}
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			authors = append(authors, p)
		}
	}
	return authors
}

var publishedTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func publishDate(doc *goquery.Document) string {
	raw := firstNonEmpty(
		metaContent(doc, "property", "article:published_time"),
		metaContent(doc, "name", "date"),
		metaContent(doc, "itemprop", "datePublished"),
		attr(doc.Find("time[datetime]").First(), "datetime"),
	)
	if raw == "" {
		return ""
	}
	for _, layout := range publishedTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return raw
}

func metaLang(doc *goquery.Document) string {
	lang := firstNonEmpty(
		attr(doc.Find("html").First(), "lang"),
		metaContent(doc, "http-equiv", "content-language"),
	)
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func metaEncoding(doc *goquery.Document) string {
	if cs := attr(doc.Find("meta[charset]").First(), "charset"); cs != "" {
		return strings.ToLower(cs)
	}
	ct := metaContent(doc, "http-equiv", "content-type")
	if _, cs, ok := strings.Cut(strings.ToLower(ct), "charset="); ok {
		return strings.TrimSpace(cs)
	}
	return ""
}

// opengraph collects og: properties as OpengraphPascalCase keys.
func opengraph(doc *goquery.Document) map[string]string {
	out := make(map[string]string)
	doc.Find(`meta[property^="og:"]`).Each(func(i int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		key := "Opengraph" + PascalCase(strings.TrimPrefix(prop, "og:"))
		if _, seen := out[key]; !seen {
			out[key] = strings.TrimSpace(attr(s, "content"))
		}
	})
	return out
}

func tags(doc *goquery.Document) []string {
	tags := []string{}
	doc.Find(`meta[property="article:tag"]`).Each(func(i int, s *goquery.Selection) {
		if t := strings.TrimSpace(attr(s, "content")); t != "" && !containsFold(tags, t) {
			tags = append(tags, t)
		}
	})
	doc.Find(`a[rel="tag"]`).Each(func(i int, s *goquery.Selection) {
		if t := normalizeSpace(s.Text()); t != "" && !containsFold(tags, t) {
			tags = append(tags, t)
		}
	})
	return tags
}

func links(body *goquery.Selection, base *url.URL) []string {
	out := []string{}
	seen := make(map[string]bool)
	body.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href := resolve(base, attr(s, "href"))
		if !strings.HasPrefix(href, "http") || seen[href] {
			return
		}
		seen[href] = true
		out = append(out, href)
	})
	return out
}

func movies(body *goquery.Selection, base *url.URL) []string {
	out := []string{}
	body.Find("video[src], video source[src], iframe[src]").Each(func(i int, s *goquery.Selection) {
		src := resolve(base, attr(s, "src"))
		if s.Is("iframe") && !isVideoHost(src) {
			return
		}
		out = append(out, src)
	})
	return out
}

func isVideoHost(src string) bool {
	for _, host := range []string{"youtube.com", "youtube-nocookie.com", "vimeo.com", "dailymotion.com"} {
		if strings.Contains(src, host) {
			return true
		}
	}
	return false
}

func tweets(doc *goquery.Document) []string {
	out := []string{}
	doc.Find("blockquote.twitter-tweet").Each(func(i int, s *goquery.Selection) {
		if t := normalizeSpace(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func cleanedText(body *goquery.Selection, exclude string) string {
	body = body.Clone()
	body.Find(boilerplate).Remove()
	if exclude != "" {
		body.Find(exclude).Remove()
	}

	var paragraphs []string
	body.Find("p, h2, h3, li").Each(func(i int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li").Length() > 0 {
			return
		}
		if t := normalizeSpace(s.Text()); t != "" {
			paragraphs = append(paragraphs, t)
		}
	})
	if len(paragraphs) == 0 {
		return normalizeSpace(body.Text())
	}
	return strings.Join(paragraphs, "\n\n")
}

// PascalCase turns "site_name" or "image:width" into "SiteName" and
// "ImageWidth".
func PascalCase(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func metaContent(doc *goquery.Document, attrName, value string) string {
	var out string
	doc.Find("meta").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if strings.EqualFold(attr(s, attrName), value) {
			out = strings.TrimSpace(attr(s, "content"))
			return false
		}
		return true
	})
	return out
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func containsFold(slice []string, s string) bool {
	for _, v := range slice {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
