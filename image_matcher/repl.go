package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/mattanapol/image_matcher/internal/csv_helper"
	"github.com/mattanapol/image_matcher/internal/dataset"
	"github.com/mattanapol/image_matcher/internal/logger"
	"github.com/mattanapol/image_matcher/internal/matcher"
)

const promptText = "- Which image to check now?"

type finder interface {
	FindBestMatch(ctx context.Context, cache *dataset.Cache, queryPath string) matcher.Result
}

type replOptions struct {
	QueryDir    string
	Top         int
	HistoryFile string
	Logger      *zap.Logger
}

type styles struct {
	prompt lipgloss.Style
	label  lipgloss.Style
	miss   lipgloss.Style
	rank   lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		prompt: r.NewStyle().Foreground(lipgloss.Color("82")).Bold(true),
		label:  r.NewStyle().Foreground(lipgloss.Color("245")),
		miss:   r.NewStyle().Foreground(lipgloss.Color("203")),
		rank:   r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

type repl struct {
	in     io.Reader
	out    io.Writer
	finder finder
	cache  *dataset.Cache
	opts   replOptions
	styles styles
	log    *zap.Logger
}

func newREPL(in io.Reader, out io.Writer, f finder, cache *dataset.Cache, opts *replOptions) *repl {
	o := replOptions{}
	if opts != nil {
		o = *opts
	}
	if o.Top < 1 {
		o.Top = 1
	}
	return &repl{
		in:     in,
		out:    out,
		finder: f,
		cache:  cache,
		opts:   o,
		styles: newStyles(out),
		log:    logger.OrNop(o.Logger),
	}
}

// run prompts for query filenames until input ends, the user exits or ctx
// is cancelled.
func (r *repl) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprintf(r.out, "%s\n ", r.styles.prompt.Render(promptText))

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(r.out)
			select {
			case err := <-scanErr:
				return err
			default:
				return nil
			}
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "quit", ":q":
			return nil
		}
		r.query(ctx, input)
	}
}

// query matches one filename relative to the query directory, prints the
// outcome and records it in the history file.
func (r *repl) query(ctx context.Context, input string) matcher.Result {
	path := input
	if !filepath.IsAbs(path) && r.opts.QueryDir != "" {
		path = filepath.Join(r.opts.QueryDir, input)
	}
	return r.queryPath(ctx, input, path)
}

// queryPath matches path as given and reports it under label.
func (r *repl) queryPath(ctx context.Context, label, path string) matcher.Result {
	res := r.finder.FindBestMatch(ctx, r.cache, path)
	r.print(label, res)

	if err := r.record(label, res); err != nil {
		r.log.Warn("could not write query history", zap.String("file", r.opts.HistoryFile), zap.Error(err))
	}
	return res
}

func (r *repl) print(input string, res matcher.Result) {
	if !res.Found {
		fmt.Fprintf(r.out, "%s\n%s %.2f sec\n\n\n",
			r.styles.miss.Render("No match found."),
			r.styles.label.Render("Time Taken:"), res.Elapsed)
		return
	}

	fmt.Fprintf(r.out, "%s %s\n%s %s\n%s %.2f sec\n",
		r.styles.label.Render("Input:"), input,
		r.styles.label.Render("Match:"), res.Name,
		r.styles.label.Render("Time Taken:"), res.Elapsed)

	if r.opts.Top > 1 {
		for i, m := range res.Ranking {
			if i == r.opts.Top {
				break
			}
			fmt.Fprintln(r.out, r.styles.rank.Render(fmt.Sprintf("  %d. %s (%d)", i+1, m.File, m.Count)))
		}
	}
	fmt.Fprint(r.out, "\n\n")
}

func (r *repl) record(input string, res matcher.Result) error {
	if r.opts.HistoryFile == "" {
		return nil
	}
	if err := csv_helper.CreateCSVFileWithHeaders(r.opts.HistoryFile, csv_helper.HistoryHeaders); err != nil {
		return err
	}
	return csv_helper.AppendResultToCSV(r.opts.HistoryFile, []string{
		time.Now().Format(time.RFC3339),
		res.QueryID,
		input,
		res.Name,
		res.File,
		strconv.Itoa(res.Count),
		strconv.FormatFloat(res.Elapsed, 'f', 2, 64),
	})
}
