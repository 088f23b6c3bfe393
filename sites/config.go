// Package sites holds the reference site adapters: a selector-driven
// adapter configured per publisher, an RSS/Atom feed adapter and presets
// for several German newspapers.
package sites

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/extract"
)

// Archive kinds.
const (
	KindDate    = "date"
	KindEdition = "edition"
	KindFeed    = "feed"
)

var ErrInvalidConfig = errors.New("invalid site config")

// ErrLoginNotConfigured is returned by Login for sites without a login form.
var ErrLoginNotConfigured = adapter.ErrLoginNotConfigured

// Config describes how to crawl one publisher.
type Config struct {
	Name string `yaml:"name"`
	// Kind is date, edition or feed. Empty means date.
	Kind     string `yaml:"kind"`
	Timezone string `yaml:"timezone"`

	// ArchiveURL is the index page template. It understands {date},
	// {year}, {month}, {day}, {edition} and {edition2} (zero padded).
	ArchiveURL string `yaml:"archive_url"`
	// DateLayout formats {date}. Empty means 2006-01-02.
	DateLayout      string `yaml:"date_layout"`
	EditionsPerYear int    `yaml:"editions_per_year"`

	List    ListConfig    `yaml:"list"`
	Article ArticleConfig `yaml:"article"`
	Login   LoginConfig   `yaml:"login"`
}

// ListConfig defines how to read article links off an index page.
type ListConfig struct {
	// ItemSelector selects one element per listed article.
	ItemSelector string `yaml:"item_selector"`
	// LinkSelector locates the link inside an item. Empty uses the item
	// itself when it is a link and its first a[href] otherwise.
	LinkSelector string `yaml:"link_selector"`
	// SkipSelector drops items containing a match, e.g. advertisements.
	SkipSelector string `yaml:"skip_selector"`
	// URLPrefix keeps only links starting with it after resolution.
	URLPrefix string `yaml:"url_prefix"`
	// ExcludePattern drops links matching the regular expression.
	ExcludePattern string `yaml:"exclude_pattern"`

	// PublishedSelector locates the publication time inside an item.
	PublishedSelector string `yaml:"published_selector"`
	// PublishedAttr reads the time from an attribute instead of the text.
	PublishedAttr string `yaml:"published_attr"`
	// PublishedPattern extracts the time from the selected text.
	PublishedPattern string `yaml:"published_pattern"`
	// PublishedLayout parses the time in the site time zone. A layout
	// without a year takes the year of the listed day.
	PublishedLayout string `yaml:"published_layout"`
	// GermanMonths translates German month names before parsing.
	GermanMonths bool `yaml:"german_months"`
}

// ArticleConfig defines how to classify and read an article page.
type ArticleConfig struct {
	// RecognizedSelector must match on every article page the adapter
	// understands. A page without it is ambiguous and treated as premium.
	RecognizedSelector string `yaml:"recognized_selector"`
	// PremiumSelector marks premium pages.
	PremiumSelector string `yaml:"premium_selector"`
	// PremiumURLPattern marks premium pages by requested or final URL.
	PremiumURLPattern string `yaml:"premium_url_pattern"`
	// AlwaysPremium sends every article to the premium pass.
	AlwaysPremium bool `yaml:"always_premium"`
	// FullViewSuffix is appended to the URL when the page links to a
	// single-page version of itself.
	FullViewSuffix string `yaml:"full_view_suffix"`

	Extract extract.Config `yaml:"extract"`
}

// LoginConfig describes a form login.
type LoginConfig struct {
	// URL is the page holding the login form.
	URL string `yaml:"url"`
	// ActionURL receives the form post. Empty uses the form's action.
	ActionURL     string `yaml:"action_url"`
	UsernameField string `yaml:"username_field"`
	PasswordField string `yaml:"password_field"`
	// SuccessSelector must match on the page returned after posting.
	SuccessSelector string `yaml:"success_selector"`
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.Kind == "" {
		c.Kind = KindDate
	}
	switch c.Kind {
	case KindDate, KindFeed:
	case KindEdition:
		if c.EditionsPerYear < 1 {
			return fmt.Errorf("%w: %s: editions_per_year must be at least 1", ErrInvalidConfig, c.Name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidConfig, c.Name, c.Kind)
	}
	if c.ArchiveURL == "" {
		return fmt.Errorf("%w: %s: archive_url is required", ErrInvalidConfig, c.Name)
	}
	if c.Kind != KindFeed && c.List.ItemSelector == "" {
		return fmt.Errorf("%w: %s: list.item_selector is required", ErrInvalidConfig, c.Name)
	}
	if c.DateLayout == "" {
		c.DateLayout = "2006-01-02"
	}
	if _, err := c.location(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, c.Name, err)
	}
	for _, p := range []string{c.List.ExcludePattern, c.List.PublishedPattern, c.Article.PremiumURLPattern} {
		if p == "" {
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: %s: bad pattern %q: %v", ErrInvalidConfig, c.Name, p, err)
		}
	}
	return nil
}

func (c *Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}
