package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/property-monitor/internal/app"
	"github.com/JakeFAU/property-monitor/internal/scraper"
)

func newScrapeCmd() *cobra.Command {
	var (
		pages    int
		progress bool
		noExport bool
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs one scrape, saves new listings and exports them",
		Long: `Fetches every configured search page concurrently, inserts listings that
are not already stored, writes the dated export and publishes a run summary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			opts := app.RunOptions{Pages: pages, SkipExport: noExport}
			if progress {
				total := pages
				if total <= 0 {
					total = instance.Config().Scrape.Pages
				}
				bar := newProgressBar(cmd.ErrOrStderr(), total)
				opts.OnPage = func(scraper.PageResult) { _ = bar.Add(1) }
				defer func() { _ = bar.Finish() }()
			}

			report, err := instance.Run(cmd.Context(), opts)
			renderReport(cmd.OutOrStdout(), report)
			if err != nil {
				return fmt.Errorf("scrape run %s: %w", report.RunID, err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 0, "number of search pages to fetch (default scrape.pages)")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar on stderr")
	cmd.Flags().BoolVar(&noExport, "no-export", false, "skip writing the export file")
	return cmd
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("scraping pages"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func renderReport(w io.Writer, r app.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle("Run %s", r.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Pages", r.Pages},
		{"Pages succeeded", r.PagesSucceeded},
		{"Pages blocked", r.PagesBlocked},
		{"Pages exhausted", r.PagesExhausted},
		{"Records extracted", r.Records},
		{"Inserted", r.Inserted},
		{"Duplicates", r.Duplicates},
		{"Skipped (no link)", r.Skipped},
		{"Failed", r.Failed},
		{"Duration", r.Duration.Round(time.Millisecond)},
	})
	switch {
	case r.ExportError != "":
		t.AppendFooter(table.Row{"Export failed", r.ExportError})
	case r.ExportPath != "":
		t.AppendFooter(table.Row{"Export", r.ExportPath})
	}
	t.Render()
}
