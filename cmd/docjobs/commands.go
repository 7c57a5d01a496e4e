package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tupyy/docjobs/internal/models"
	"github.com/tupyy/docjobs/internal/services"
	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
	"github.com/tupyy/docjobs/pkg/jobs"
)

// withDocument runs fn with an app whose session has path open.
func withDocument(cmd *cobra.Command, v *viper.Viper, path string, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, v)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.open(ctx, path, v.GetString("password")); err != nil {
		if srvErrors.IsEncryptedDocumentError(err) {
			return fmt.Errorf("%w: use --password", err)
		}
		return err
	}
	return fn(ctx, a)
}

func newRenderCommand(v *viper.Viper) *cobra.Command {
	var (
		page     int
		scale    float64
		rotation int
		out      string
		links    bool
	)
	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "Render one page to a PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd, v, args[0], func(ctx context.Context, a *app) error {
				params := jobs.RenderParams{Page: page - 1, Scale: scale, Rotation: rotation}
				if links {
					params.Flags = jobs.RenderLinks
				}
				res, err := a.session.Render(ctx, params)
				if err != nil {
					return err
				}
				if out == "" {
					out = fmt.Sprintf("%s-p%d.png", strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])), page)
				}
				if err := writePNG(out, res.Surface); err != nil {
					return err
				}
				fmt.Println(okf("page %d written to %s", page, out))
				for _, l := range res.Links {
					fmt.Printf("  link %s -> %s\n", formatRect(l.Area), formatLink(l.Data))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page to render, starting at 1")
	cmd.Flags().Float64Var(&scale, "scale", 1, "scale factor")
	cmd.Flags().IntVar(&rotation, "rotation", 0, "clockwise rotation in degrees")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output PNG file")
	cmd.Flags().BoolVar(&links, "links", false, "list the links of the page")
	return cmd
}

func newThumbnailsCommand(v *viper.Viper) *cobra.Command {
	var (
		scale  float64
		border bool
		dir    string
	)
	cmd := &cobra.Command{
		Use:   "thumbnails FILE",
		Short: "Render a thumbnail of every page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd, v, args[0], func(ctx context.Context, a *app) error {
				thumbs, err := a.session.Thumbnails(ctx, scale, border)
				if err != nil {
					return err
				}
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				for i, t := range thumbs {
					if err := writePNG(filepath.Join(dir, fmt.Sprintf("thumb-%04d.png", i+1)), t); err != nil {
						return err
					}
				}
				fmt.Println(okf("%d thumbnails written to %s", len(thumbs), dir))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&scale, "scale", 0.2, "thumbnail scale factor")
	cmd.Flags().BoolVar(&border, "border", true, "frame each thumbnail")
	cmd.Flags().StringVarP(&dir, "output-dir", "o", "thumbnails", "output directory")
	return cmd
}

func newOutlineCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "outline FILE",
		Short: "Print the table of contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd, v, args[0], func(ctx context.Context, a *app) error {
				items, err := a.session.Outline(ctx)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Println(warnf("no outline"))
					return nil
				}
				printOutline(items, 0)
				return nil
			})
		},
	}
}

func printOutline(items []document.OutlineItem, depth int) {
	for _, it := range items {
		target := dimf("-")
		if it.Page >= 0 {
			target = dimf("p%d", it.Page+1)
		} else if it.URI != "" {
			target = dimf("%s", it.URI)
		}
		fmt.Printf("%s%s %s\n", strings.Repeat("  ", depth), it.Title, target)
		printOutline(it.Children, depth+1)
	}
}

func newFontsCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "fonts FILE",
		Short: "List the fonts used by the document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd, v, args[0], func(ctx context.Context, a *app) error {
				res, err := a.session.Fonts(ctx, func(f float64) {
					fmt.Fprintf(os.Stderr, "\rscanning fonts %3.0f%%", f*100)
				})
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return err
				}
				for _, f := range res.Fonts {
					flags := []string{f.Type}
					if f.Embedded {
						flags = append(flags, "embedded")
					}
					if f.Subset {
						flags = append(flags, "subset")
					}
					fmt.Printf("%s %s %s\n", f.Name, dimf("%s", strings.Join(flags, ",")), dimf("%s", f.Encoding))
				}
				fmt.Println(okf("%d fonts", len(res.Fonts)))
				return nil
			})
		},
	}
}

func newFindCommand(v *viper.Viper) *cobra.Command {
	var (
		caseSensitive bool
		startPage     int
	)
	cmd := &cobra.Command{
		Use:   "find FILE TEXT",
		Short: "Search the document for text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd, v, args[0], func(ctx context.Context, a *app) error {
				res, err := a.session.Find(ctx, jobs.FindParams{
					Text:          args[1],
					CaseSensitive: caseSensitive,
					StartPage:     startPage - 1,
				})
				if err != nil {
					return err
				}
				for _, pm := range res.Ordered() {
					for _, r := range pm.Rects {
						fmt.Printf("p%d %s\n", pm.Page+1, formatRect(r))
					}
				}
				if res.TotalMatches() == 0 {
					fmt.Println(warnf("no match for %q", args[1]))
					return nil
				}
				fmt.Println(okf("%d matches, first on page %d", res.TotalMatches(), res.FirstMatchPage()+1))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "match case")
	cmd.Flags().IntVar(&startPage, "start-page", 1, "page the search starts from")
	return cmd
}

func newSaveCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "save FILE DEST",
		Short: "Save a copy of the document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd, v, args[0], func(ctx context.Context, a *app) error {
				res, err := a.session.Save(ctx, args[1])
				if err != nil {
					return err
				}
				msg := okf("saved to %s", res.Path)
				if res.Compressed {
					msg += dimf(" (gzip)")
				}
				fmt.Println(msg)
				return nil
			})
		},
	}
}

func newPrintCommand(v *viper.Viper) *cobra.Command {
	var (
		pages         string
		set           string
		pagesPerSheet int
		copies        int
		collate       bool
		reverse       bool
		format        string
		width, height float64
	)
	cmd := &cobra.Command{
		Use:   "print FILE DEST",
		Short: "Lay out pages on sheets and export them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ranges, err := parsePageRanges(pages)
			if err != nil {
				return err
			}
			pageSet, err := parsePageSet(set)
			if err != nil {
				return err
			}
			return withDocument(cmd, v, args[0], func(ctx context.Context, a *app) error {
				res, err := a.session.Print(ctx, jobs.PrintParams{
					Ranges:        ranges,
					Set:           pageSet,
					PagesPerSheet: pagesPerSheet,
					Copies:        copies,
					Collate:       collate,
					Reverse:       reverse,
					Width:         width,
					Height:        height,
					Format:        document.ExportFormat(strings.ToLower(format)),
					OutputURI:     args[1],
				})
				if err != nil {
					return err
				}
				fmt.Println(okf("%d pages on %d sheets written to %s", len(res.Pages), res.Sheets, res.Path))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pages, "pages", "", "page ranges, e.g. 1-3,5,8-")
	cmd.Flags().StringVar(&set, "set", "all", "all, even or odd pages")
	cmd.Flags().IntVar(&pagesPerSheet, "pages-per-sheet", 1, "pages laid out on each sheet")
	cmd.Flags().IntVar(&copies, "copies", 1, "number of copies")
	cmd.Flags().BoolVar(&collate, "collate", true, "collate copies")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "print the last sheet first")
	cmd.Flags().StringVar(&format, "format", string(document.ExportPDF), "output format: pdf or png")
	cmd.Flags().Float64Var(&width, "width", 0, "sheet width in points, 0 for the first page width")
	cmd.Flags().Float64Var(&height, "height", 0, "sheet height in points, 0 for the first page height")
	return cmd
}

func newHistoryCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the job history",
	}
	cmd.AddCommand(newHistoryListCommand(v), newHistoryPruneCommand(v))
	return cmd
}

// withHistory runs fn with the history service. It fails when history is
// disabled.
func withHistory(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, h *services.HistoryService) error) error {
	ctx := cmd.Context()
	if !v.GetBool("history") {
		return fmt.Errorf("history is disabled")
	}
	a, err := newApp(ctx, v)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a.history)
}

func newHistoryListCommand(v *viper.Viper) *cobra.Command {
	var (
		kinds  []string
		states []string
		doc    string
		since  time.Duration
		sortBy []string
		limit  uint64
		offset uint64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := services.HistoryListParams{
				Kinds:  kinds,
				Sort:   parseSort(sortBy),
				Limit:  limit,
				Offset: offset,
			}
			for _, s := range states {
				state, err := models.ParseJobState(s)
				if err != nil {
					return err
				}
				params.States = append(params.States, state)
			}
			if doc != "" {
				params.Document = document.FileURI(doc)
			}
			if since > 0 {
				params.Since = time.Now().Add(-since)
			}

			return withHistory(cmd, v, func(ctx context.Context, h *services.HistoryService) error {
				res, err := h.List(ctx, params)
				if err != nil {
					return err
				}
				for _, j := range res.Jobs {
					fmt.Printf("%s %-9s %s %-6s %8s %s %s\n",
						dimf("%s", j.CreatedAt.Local().Format(time.DateTime)),
						j.Kind,
						formatState(j.State),
						j.Priority,
						j.Duration().Round(time.Millisecond),
						j.DocumentURI,
						dimf("%s", j.Error),
					)
				}
				fmt.Println(dimf("%d of %d jobs", len(res.Jobs), res.Total))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "filter by job kind")
	cmd.Flags().StringSliceVar(&states, "state", nil, "filter by state: finished, failed or cancelled")
	cmd.Flags().StringVar(&doc, "document", "", "filter by document path")
	cmd.Flags().DurationVar(&since, "since", 0, "only jobs finished within this duration")
	cmd.Flags().StringSliceVar(&sortBy, "sort", nil, "sort fields, e.g. startedAt:desc")
	cmd.Flags().Uint64Var(&limit, "limit", 50, "maximum number of jobs")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "jobs to skip")
	return cmd
}

func newHistoryPruneCommand(v *viper.Viper) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old job records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHistory(cmd, v, func(ctx context.Context, h *services.HistoryService) error {
				n, err := h.Prune(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Println(okf("%d records pruned", n))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the records to delete")
	return cmd
}

func formatState(s models.JobState) string {
	switch s {
	case models.JobStateFinished:
		return okf("%-9s", s)
	case models.JobStateFailed:
		return errf("%-9s", s)
	default:
		return warnf("%-9s", s)
	}
}

func formatRect(r document.Rect) string {
	return fmt.Sprintf("[%.1f %.1f %.1f %.1f]", r.X0, r.Y0, r.X1, r.Y1)
}

func formatLink(l document.Link) string {
	switch {
	case l.URI != "":
		return l.URI
	case l.Page >= 0:
		return fmt.Sprintf("page %d", l.Page+1)
	default:
		return l.Dest
	}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
