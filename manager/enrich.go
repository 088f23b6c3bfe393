package manager

import (
	"context"
	"fmt"

	"github.com/pevans/newsarchive/extract"
	"github.com/pevans/newsarchive/logger"
	"github.com/pevans/newsarchive/store"
)

// EnrichReport summarizes an enrichment pass.
type EnrichReport struct {
	Candidates int
	Processed  int
	// Empty counts articles whose scraped row had no text.
	Empty       int
	NothingToDo bool
}

// Enrich runs the analyzer over the text of every scraped article of the
// site that has not been processed yet.
func (m *Manager) Enrich(ctx context.Context) (*EnrichReport, error) {
	if m.opts.Analyzer == nil {
		return nil, ErrNoAnalyzer
	}

	name := m.site.Name()
	candidates := func() []store.Article {
		return m.store.Articles(name, func(a store.Article) bool {
			return a.Scraped && !a.Processed
		})
	}

	p := m.begin("enrich")
	report := &EnrichReport{Candidates: len(candidates())}
	if report.Candidates == 0 {
		report.NothingToDo = true
		p.log.Info("no articles to process")
		return report, nil
	}
	p.log.Info("start processing", logger.Int("articles", report.Candidates))

	err := m.run(ctx, p, func() error {
		todo := candidates()
		for i, a := range todo {
			if err := ctx.Err(); err != nil {
				return err
			}
			scraped, ok, err := m.store.ScrapedRow(a.URL)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: no scraped row for %s", store.ErrUnknownURL, a.URL)
			}
			text, _ := scraped[extract.FieldCleanedText].(string)
			if text == "" {
				report.Empty++
			}

			doc, err := m.opts.Analyzer.Analyze(ctx, text)
			if err != nil {
				return fmt.Errorf("failed to analyze %s: %w", a.URL, err)
			}
			cols, err := doc.Columns()
			if err != nil {
				return err
			}

			row := store.Row{store.ColURL: a.URL, ColRunID: p.id}
			for k, v := range cols {
				row[k] = v
			}
			if err := m.store.AppendProcessed(row); err != nil {
				return err
			}
			if err := m.save(store.Processed); err != nil {
				return err
			}
			report.Processed++
			p.log.Debug("processed article",
				logger.String("url", a.URL),
				logger.String("lang", doc.Lang),
				logger.Int("tokens", len(doc.Tokens)),
				logger.Int("progress", i+1),
				logger.Int("total", len(todo)))
		}
		return nil
	})
	return report, err
}
