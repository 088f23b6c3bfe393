package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/manager"
	"github.com/pevans/newsarchive/nlp"
)

const (
	envUsername = "NEWSARCHIVE_USERNAME"
	envPassword = "NEWSARCHIVE_PASSWORD"
)

func newIndexCmd(a *app) *cobra.Command {
	var site, from, to string
	var all bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the articles listed for a range of days",
		Example: `  newsarchive index --site de_spiegel --from 2020-01-01 --to 2020-01-31
  newsarchive index --site de_spiegel --from 2020-01-01 --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(site, manager.Options{})
			if err != nil {
				return err
			}
			defer m.Close()

			loc := adapter.Location(m.Site())
			start, err := parseDay(from, loc)
			if err != nil {
				return err
			}
			end := start
			if to != "" {
				if end, err = parseDay(to, loc); err != nil {
					return err
				}
			}

			report, err := m.Index(cmd.Context(), start, end, !all)
			printIndexReport(cmd, report)
			if err != nil {
				return err
			}
			return m.Close()
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site name")
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default --from)")
	cmd.Flags().BoolVar(&all, "all", false, "list days again even when they are already indexed")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newIndexEditionsCmd(a *app) *cobra.Command {
	var site, from, to string
	var perYear int
	var all bool
	cmd := &cobra.Command{
		Use:     "index-editions",
		Short:   "Index the articles of a range of editions",
		Example: `  newsarchive index-editions --site de_zeit --from 2020-1 --to 2020-52`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(site, manager.Options{})
			if err != nil {
				return err
			}
			defer m.Close()

			if to == "" {
				to = from
			}
			report, err := m.IndexByEdition(cmd.Context(), from, to, perYear, !all)
			printIndexReport(cmd, report)
			if err != nil {
				return err
			}
			return m.Close()
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site name")
	cmd.Flags().StringVar(&from, "from", "", "first edition, YEAR-EDITION")
	cmd.Flags().StringVar(&to, "to", "", "last edition, YEAR-EDITION (default --from)")
	cmd.Flags().IntVar(&perYear, "per-year", 0, "editions per year (default from the site)")
	cmd.Flags().BoolVar(&all, "all", false, "list editions again even when they are already indexed")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newScrapeCmd(a *app) *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch indexed articles and store the public ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(site, manager.Options{})
			if err != nil {
				return err
			}
			defer m.Close()

			report, err := m.ScrapePublic(cmd.Context())
			printScrapeReport(cmd, report)
			if err != nil {
				return err
			}
			return m.Close()
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site name")
	return cmd
}

func newScrapePremiumCmd(a *app) *cobra.Command {
	var site string
	var creds adapter.Credentials
	cmd := &cobra.Command{
		Use:   "scrape-premium",
		Short: "Log in and fetch the premium articles",
		Long: `Log in and fetch the premium articles found by scrape.

Credentials default to ` + envUsername + ` and ` + envPassword + `, which may also
be set in a .env file in the working directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if creds.Username == "" {
				creds.Username = os.Getenv(envUsername)
			}
			if creds.Password == "" {
				creds.Password = os.Getenv(envPassword)
			}

			m, err := a.open(site, manager.Options{})
			if err != nil {
				return err
			}
			defer m.Close()

			report, err := m.ScrapePremium(cmd.Context(), creds)
			printScrapeReport(cmd, report)
			if err != nil {
				return err
			}
			return m.Close()
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site name")
	cmd.Flags().StringVar(&creds.Username, "username", "", "premium account user (default $"+envUsername+")")
	cmd.Flags().StringVar(&creds.Password, "password", "", "premium account password (default $"+envPassword+")")
	return cmd
}

func newEnrichCmd(a *app) *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Run text analysis over scraped articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			analyzer, err := nlp.NewBasic(a.cfg.NLP.Languages...)
			if err != nil {
				return err
			}
			m, err := a.open(site, manager.Options{Analyzer: analyzer})
			if err != nil {
				return err
			}
			defer m.Close()

			report, err := m.Enrich(cmd.Context())
			if report != nil {
				if report.NothingToDo {
					fmt.Fprintln(cmd.OutOrStdout(), "No articles to process.")
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Processed %d/%d articles (%d without text).\n",
						report.Processed, report.Candidates, report.Empty)
				}
			}
			if err != nil {
				return err
			}
			return m.Close()
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site name")
	return cmd
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func printIndexReport(cmd *cobra.Command, r *manager.IndexReport) {
	if r == nil {
		return
	}
	if r.NothingToDo {
		fmt.Fprintf(cmd.OutOrStdout(), "Nothing to index: all %d units are covered. Use --all to list them again.\n", r.Units)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d/%d units (%d already covered): %d new of %d links.\n",
		r.Done, r.Pending, r.Units-r.Pending, r.Added, r.Seen)
}

func printScrapeReport(cmd *cobra.Command, r *manager.ScrapeReport) {
	switch {
	case r == nil:
	case r.NothingToDo:
		fmt.Fprintln(cmd.OutOrStdout(), "No articles to scrape.")
	case r.LoginFailed:
		fmt.Fprintln(cmd.OutOrStdout(), "Login failed, no premium articles scraped.")
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "Scraped %d of %d articles (%d public, %d premium, %d parse errors, %d skipped).\n",
			r.Scraped, r.Candidates, r.Public, r.Premium, r.ParseErrors, r.Skipped)
	}
}
