package sites

import (
	"fmt"
	_ "time/tzdata"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/extract"
	"github.com/pevans/newsarchive/logger"
)

// Presets returns the built-in publisher configs. Selectors follow the
// archive markup at the time they were written and break when the
// publishers redesign their pages.
func Presets() []Config {
	return []Config{
		{
			Name:       "de_spiegel",
			Timezone:   "Europe/Berlin",
			ArchiveURL: "https://www.spiegel.de/nachrichtenarchiv/artikel-{date}.html",
			DateLayout: "02.01.2006",
			List: ListConfig{
				ItemSelector:     `section[data-area="article-teaser-list"] div[data-block-el="articleTeaser"]`,
				SkipSelector:     "h3",
				PublishedPattern: `\d{1,2}\.\s\S+,\s\d{1,2}\.\d{2}\sUhr`,
				PublishedLayout:  "2. January, 15.04 Uhr",
				GermanMonths:     true,
			},
			Article: ArticleConfig{
				RecognizedSelector: `header[data-area="intro"]`,
				PremiumSelector:    `header[data-area="intro"] svg#spon-spplus-flag-l`,
				Extract:            extract.Config{ContentSelector: "article"},
			},
			Login: LoginConfig{
				URL:             "https://gruppenkonto.spiegel.de/anmelden.html",
				UsernameField:   "loginform:username",
				PasswordField:   "loginform:password",
				SuccessSelector: `a.tostart`,
			},
		},
		{
			Name:            "de_zeit",
			Kind:            KindEdition,
			Timezone:        "Europe/Berlin",
			ArchiveURL:      "https://www.zeit.de/{year}/{edition2}/index",
			EditionsPerYear: 55,
			List: ListConfig{
				ItemSelector: "article",
				URLPrefix:    "https://www.zeit.de/",
			},
			Article: ArticleConfig{
				PremiumSelector: "aside#paywall",
				FullViewSuffix:  "/komplettansicht",
				Extract:         extract.Config{ContentSelector: "article"},
			},
			Login: LoginConfig{
				URL:             "https://meine.zeit.de/anmelden",
				UsernameField:   "email",
				PasswordField:   "pass",
				SuccessSelector: "span.dashboard__title",
			},
		},
		{
			Name:       "de_welt",
			Timezone:   "Europe/Berlin",
			ArchiveURL: "https://www.welt.de/schlagzeilen/nachrichten-vom-{date}.html",
			DateLayout: "2-1-2006",
			List: ListConfig{
				ItemSelector:     "div.c-tabs__panel-content article.c-teaser--archive",
				LinkSelector:     "h4 a[href]",
				PublishedPattern: `\d{2}\.\d{2}\.\d{4}\s\|\s\d{2}:\d{2}`,
				PublishedLayout:  "02.01.2006 | 15:04",
			},
			Article: ArticleConfig{
				RecognizedSelector: "header.c-content-container",
				PremiumSelector:    "header.c-content-container a.o-dreifaltigkeit__premium-badge",
			},
		},
		{
			Name:       "de_bild",
			Timezone:   "Europe/Berlin",
			ArchiveURL: "https://www.bild.de/themen/uebersicht/archiv/archiv-82532020.bild.html?archiveDate={date}",
			List: ListConfig{
				ItemSelector:      "section.stage-feed--archive ul.stage-feed__viewport li",
				PublishedSelector: "time",
				PublishedAttr:     "datetime",
				PublishedLayout:   "2006-01-02T15:04:05Z07:00",
			},
			Article: ArticleConfig{
				PremiumURLPattern: `^https://www\.bild\.de/bild-plus/`,
			},
		},
		{
			Name:       "de_handelsblatt",
			Timezone:   "Europe/Berlin",
			ArchiveURL: "https://www.handelsblatt.com/archiv/{date}",
			DateLayout: "2006/1/2",
			List: ListConfig{
				ItemSelector: "a.vhb-teaser-link",
			},
			Article: ArticleConfig{
				AlwaysPremium: true,
			},
			Login: LoginConfig{
				URL:           "https://id.handelsblatt.com/login",
				UsernameField: "email",
				PasswordField: "password",
			},
		},
		{
			Name:       "de_tagesspiegel",
			Timezone:   "Europe/Berlin",
			ArchiveURL: "https://www.tagesspiegel.de/archiv/{date}/",
			DateLayout: "2006/01/02",
			List: ListConfig{
				ItemSelector: "article",
			},
			Article: ArticleConfig{
				RecognizedSelector: "div.Uk",
				PremiumSelector:    "div.Uk svg",
			},
		},
	}
}

// Register builds every preset plus extra and adds them to reg. An extra
// config with a preset's name replaces the preset.
func Register(reg *adapter.Registry, client Fetcher, log logger.Logger, extra ...Config) error {
	configs := make(map[string]Config)
	var order []string
	for _, cfg := range append(Presets(), extra...) {
		if _, ok := configs[cfg.Name]; !ok {
			order = append(order, cfg.Name)
		}
		configs[cfg.Name] = cfg
	}

	for _, name := range order {
		site, err := New(configs[name], client, log)
		if err != nil {
			return fmt.Errorf("failed to build site %s: %w", name, err)
		}
		if err := reg.Register(site); err != nil {
			return err
		}
	}
	return nil
}
