package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/config"
	"github.com/pevans/newsarchive/sites"
	"github.com/pevans/newsarchive/store"
)

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfgPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

type configured interface {
	Config() sites.Config
}

func newSitesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the available sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Name", "Kind", "Timezone", "Archive", "Login"})

			for _, name := range a.reg.Names() {
				site, err := a.reg.Resolve(name)
				if err != nil {
					return err
				}
				row := table.Row{name, "", adapter.Location(site).String(), "", "no"}
				if c, ok := site.(configured); ok {
					cfg := c.Config()
					row[1] = cfg.Kind
					row[3] = cfg.ArchiveURL
					if cfg.Login.URL != "" {
						row[4] = "yes"
					}
				}
				t.AppendRow(row)
			}
			t.Render()
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-site counts of the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(a.cfg.Database.Path, store.Options{Logger: a.log})
			if err != nil {
				return err
			}
			defer s.Close()

			names := s.Newspapers()
			if site != "" {
				names = []string{site}
			}
			if len(names) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No articles indexed in %s.\n", s.Path())
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Site", "Indexed", "Public", "Premium", "Unknown", "Scraped", "Processed"})
			var total store.Counts
			for _, name := range names {
				c := s.Count(name)
				t.AppendRow(table.Row{name, c.Indexed, c.Public, c.Premium, c.Unknown, c.Scraped, c.Processed})
				total.Indexed += c.Indexed
				total.Public += c.Public
				total.Premium += c.Premium
				total.Unknown += c.Unknown
				total.Scraped += c.Scraped
				total.Processed += c.Processed
			}
			if len(names) > 1 {
				t.AppendFooter(table.Row{"Total", total.Indexed, total.Public, total.Premium,
					total.Unknown, total.Scraped, total.Processed})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "only this site")
	return cmd
}
