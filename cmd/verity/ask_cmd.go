// ABOUTME: Query commands: ask a question scoped to a vertical, list verticals.
// ABOUTME: Resolves the vertical from the organization when not given explicitly.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/verity-ai/verity/internal/query"
	"github.com/verity-ai/verity/internal/render"
	"github.com/verity-ai/verity/internal/verticals"
)

func (a *app) cmdAsk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	vertical := fs.String("vertical", "", "Vertical id to scope the query (defaults to your organization's)")
	threshold := fs.Float64("threshold", a.cfg.Query.MatchThreshold, "Similarity match threshold")
	count := fs.Int("count", a.cfg.Query.MatchCount, "Number of source matches")
	format := fs.String("format", "text", "Output format: text or html")
	showSources := fs.Bool("sources", true, "Show source matches")
	if err := fs.Parse(args); err != nil {
		return err
	}

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: verity ask [flags] <question>")
	}

	verticalID := *vertical
	if verticalID == "" {
		if snap := a.machine.Snapshot(); snap.Organization != nil {
			verticalID = snap.Organization.VerticalID
		}
	}
	if verticalID == "" {
		return fmt.Errorf("no vertical: pass --vertical or join an organization first")
	}
	if _, known := verticals.ByID(verticalID); !known {
		color.Yellow("Warning: %q is not in the built-in vertical catalog", verticalID)
	}

	result, err := a.dispatcher.Dispatch(ctx, question, verticalID, query.Options{
		MatchThreshold: *threshold,
		MatchCount:     *count,
	})
	if err != nil {
		var vErr *query.ValidationError
		if errors.As(err, &vErr) {
			return fmt.Errorf("invalid query: %w", err)
		}
		if errors.Is(err, query.ErrUnauthenticated) {
			return fmt.Errorf("not signed in; run 'verity login' first")
		}
		return err
	}

	switch *format {
	case "html":
		html, err := render.AnswerHTML(result.Answer)
		if err != nil {
			return err
		}
		fmt.Println(html)
	case "text":
		fmt.Println(result.Answer)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}

	if *showSources && len(result.Sources) > 0 {
		fmt.Println()
		color.New(color.Bold).Printf("Sources (%d)\n", len(result.Sources))
		for i, src := range result.Sources {
			fmt.Printf("  %d. %s\n", i+1, sourceLabel(src))
		}
	}

	a.logger.Debug("query answered",
		"vertical_id", verticalID,
		"processing_time", time.Duration(result.ProcessingTimeMs)*time.Millisecond,
	)
	return nil
}

// sourceLabel picks a human-readable label out of a loosely-typed source.
func sourceLabel(src query.Source) string {
	for _, key := range []string{"title", "name", "document", "source"} {
		if v, ok := src[key].(string); ok && v != "" {
			return v
		}
	}
	if v, ok := src["content"].(string); ok && v != "" {
		if len(v) > 80 {
			return v[:80] + "…"
		}
		return v
	}
	return "(untitled source)"
}

func cmdVerticals() error {
	all, err := verticals.All()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, v := range all {
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.ID, v.Name, v.Description)
	}
	return w.Flush()
}
