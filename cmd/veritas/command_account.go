package main

import (
	"errors"
	"flag"
	"fmt"
	"text/tabwriter"

	"example/veritas-api/app/models"
	"example/veritas-api/client"

	toml "github.com/pelletier/go-toml/v2"
)

type EntitlementCommand struct {
	wiring commandWiring
}

func (c *EntitlementCommand) Run(args []string) error {
	fs := flag.NewFlagSet("entitlement", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, stop, err := c.wiring.setup()
	defer stop()
	if err != nil {
		return err
	}

	ent, err := e.api.Entitlement(e.ctx)
	if err != nil {
		return describeError(err)
	}
	w := c.wiring.stdout
	fmt.Fprintf(w, "Tier       %s\n", titleStyle.Render(string(ent.Tier)))
	if ent.DailyLimit == models.Unlimited {
		fmt.Fprintf(w, "Usage      %d today, unlimited\n", ent.Used)
	} else {
		fmt.Fprintf(w, "Usage      %d/%d today, %d remaining\n", ent.Used, ent.DailyLimit, ent.Remaining)
	}
	if ent.SubscriptionEndsAt != nil {
		fmt.Fprintf(w, "Renews     %s (%s)\n", ent.SubscriptionEndsAt.Format("2006-01-02"), relativeTime(*ent.SubscriptionEndsAt, c.wiring.now()))
	}
	return nil
}

type HistoryCommand struct {
	wiring commandWiring
}

func (c *HistoryCommand) Run(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	limit := fs.Int("limit", 20, "rows per page")
	offset := fs.Int("offset", 0, "rows to skip")
	stats := fs.Bool("stats", false, "show aggregate statistics")
	local := fs.Bool("local", false, "list the local cache instead of server history")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, stop, err := c.wiring.setup()
	defer stop()
	if err != nil {
		return err
	}
	now := c.wiring.now()

	if *local {
		st, err := c.wiring.openStore(e.cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		results, err := st.Results()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.wiring.stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "WHEN\tSCORE\tFLAGGED\tURL")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", relativeTime(r.AnalyzedAt, now), r.Result.Score, len(r.Result.FlaggedSnippets), r.URL)
		}
		return tw.Flush()
	}

	if *stats {
		s, err := e.api.HistoryStats(e.ctx)
		if err != nil {
			return describeError(err)
		}
		fmt.Fprintf(c.wiring.stdout, "Analyses            %d\n", s.Total)
		fmt.Fprintf(c.wiring.stdout, "With misinformation %d\n", s.WithMisinformation)
		fmt.Fprintf(c.wiring.stdout, "Average score       %.1f\n", s.AverageScore)
		for _, t := range s.Tags {
			fmt.Fprintf(c.wiring.stdout, "  %-20s %d\n", t.Tag, t.Count)
		}
		return nil
	}

	items, err := e.api.History(e.ctx, *limit, *offset)
	if err != nil {
		return describeError(err)
	}
	tw := tabwriter.NewWriter(c.wiring.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSCORE\tMISINFO\tBIAS\tURL")
	for _, it := range items {
		u := "-"
		if it.URL != nil {
			u = *it.URL
		}
		misinfo := "no"
		if it.HasMisinformation {
			misinfo = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", relativeTime(it.AnalyzedAt, now), it.TrustScore, misinfo, it.Bias, u)
	}
	return tw.Flush()
}

type ClearCommand struct {
	wiring commandWiring
}

func (c *ClearCommand) Run(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	all := fs.Bool("all", false, "clear all server history and the local cache")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *all == (fs.NArg() == 1) || fs.NArg() > 1 {
		return errors.New("usage: veritas clear <url> | veritas clear --all")
	}
	e, stop, err := c.wiring.setup()
	defer stop()
	if err != nil {
		return err
	}
	st, err := c.wiring.openStore(e.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if !*all {
		orch := client.NewOrchestrator(e.api, st, nil)
		if err := orch.ClearSiteData(e.ctx, fs.Arg(0)); err != nil {
			return err
		}
		fmt.Fprintf(c.wiring.stdout, "Cleared %s\n", fs.Arg(0))
		return nil
	}

	results, err := st.Results()
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := st.DeleteSite(r.URL); err != nil {
			return err
		}
	}
	n, err := e.api.ClearHistory(e.ctx, nil)
	if err != nil {
		return describeError(err)
	}
	fmt.Fprintf(c.wiring.stdout, "Cleared %d server records and %d cached pages\n", n, len(results))
	return nil
}

type ConfigCommand struct {
	wiring commandWiring
}

func (c *ConfigCommand) Run(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	write := fs.Bool("write", false, "save the effective configuration to the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := client.LoadConfig(c.wiring.configPath)
	if err != nil {
		return err
	}
	if *write {
		if err := client.SaveConfig(c.wiring.configPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(c.wiring.stderr, "wrote %s\n", c.wiring.configPath)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = c.wiring.stdout.Write(data)
	return err
}
