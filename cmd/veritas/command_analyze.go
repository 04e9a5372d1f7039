package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"example/veritas-api/app/models"
	"example/veritas-api/client"
)

type AnalyzeCommand struct {
	wiring commandWiring
}

func (c *AnalyzeCommand) Run(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	force := fs.Bool("force", false, "ignore cached results")
	noStream := fs.Bool("no-stream", false, "use the non-streaming endpoint")
	quiet := fs.Bool("quiet", false, "hide progress events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: veritas analyze [flags] <url|file>")
	}

	e, stop, err := c.wiring.setup()
	defer stop()
	if err != nil {
		return err
	}

	page, err := loadPage(e.ctx, client.NewExtractor(e.cfg.Gateway.Timeout()), fs.Arg(0))
	if err != nil {
		return err
	}

	st, err := c.wiring.openStore(e.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	hl := newTerminalHighlighter()
	hl.load(page.URL, page.Text)
	orch := client.NewOrchestrator(e.api, st, hl,
		client.WithStreaming(e.cfg.Gateway.Streaming() && !*noStream))

	req := models.AnalyzeRequest{Text: page.Text, Title: &page.Title, URL: &page.URL, ForceRefresh: *force}
	progress := newProgressPrinter(c.wiring.stderr, *quiet)
	out, err := orch.Analyze(e.ctx, req, progress.onEvent)
	if err != nil {
		return describeError(err)
	}

	view := resultView{Page: page, Outcome: out, Marks: hl.marks(page.URL), Now: c.wiring.now()}
	if out.Cached {
		if cached, ok, err := st.Result(page.URL); err == nil && ok {
			view.AnalyzedAt = cached.AnalyzedAt
		}
	}
	renderResult(c.wiring.stdout, view)
	return nil
}

// loadPage fetches http(s) targets and reads anything else from disk.
func loadPage(ctx context.Context, ex *client.Extractor, target string) (client.Page, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return ex.Fetch(ctx, target)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return client.Page{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return client.Page{}, err
	}
	defer f.Close()
	page, err := client.Extract(f, &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)})
	if err != nil {
		return client.Page{}, fmt.Errorf("%s: %w", target, err)
	}
	return page, nil
}
