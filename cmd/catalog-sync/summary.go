package main

import (
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/maltedev/catalog-sync/internal/jobs"
)

func printSummary(r jobs.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("catalog-sync")
	t.AppendHeader(table.Row{"Step", "Metric", "Value"})

	t.AppendRow(table.Row{"scrape", "pages", r.Scrape.Pages})
	t.AppendRow(table.Row{"scrape", "products", len(r.Scrape.Products)})
	t.AppendRow(table.Row{"scrape", "failed", r.Scrape.Failed})
	if r.Snapshot != "" {
		t.AppendRow(table.Row{"snapshot", "file", r.Snapshot})
	}
	t.AppendSeparator()

	if r.Sync != nil {
		t.AppendRow(table.Row{"sync", "created", r.Sync.Created})
		t.AppendRow(table.Row{"sync", "updated", r.Sync.Updated})
		t.AppendRow(table.Row{"sync", "skipped", r.Sync.Skipped})
		t.AppendRow(table.Row{"sync", "errors", r.Sync.Errors})
	} else {
		t.AppendRow(table.Row{"sync", "status", "skipped"})
	}

	t.AppendFooter(table.Row{"", "duration", r.Duration.Round(time.Millisecond)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
