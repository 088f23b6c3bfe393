package sites

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/logger"
	"github.com/pevans/newsarchive/workunit"
)

// FeedSite lists articles from an RSS or Atom feed. gofeed detects the
// format, so both are handled the same way. Feeds only carry recent items,
// so older days come back empty.
type FeedSite struct {
	*Selector
	parser *gofeed.Parser
}

func newFeedSite(s *Selector) *FeedSite {
	return &FeedSite{Selector: s, parser: gofeed.NewParser()}
}

// ListByDate implements adapter.DateLister. Only items published on day,
// in the site calendar, are returned.
func (f *FeedSite) ListByDate(ctx context.Context, day time.Time) ([]adapter.Listing, error) {
	feedURL := f.dayURL(day)
	resp, err := f.client.Get(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	feed, err := f.parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	want := workunit.Day(day, f.loc)
	var out []adapter.Listing
	skipped := 0
	for _, item := range feed.Items {
		published := itemTime(item)
		if published == nil || item.Link == "" {
			skipped++
			continue
		}
		if !workunit.Day(*published, f.loc).Equal(want) {
			continue
		}
		out = append(out, adapter.Listing{URL: item.Link, Published: published.UTC()})
	}
	if skipped > 0 {
		f.log.Debug("skipped feed items without link or date",
			logger.String("feed", feedURL), logger.Int("skipped", skipped))
	}
	return out, nil
}

// itemTime picks <pubDate>/<published>, falling back to <updated>.
func itemTime(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}
