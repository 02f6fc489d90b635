package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/chatdiagram/internal/markdown"
	"github.com/ziadkadry99/chatdiagram/internal/progress"
	"github.com/ziadkadry99/chatdiagram/internal/render"
	"github.com/ziadkadry99/chatdiagram/internal/walker"
)

var extractCmd = &cobra.Command{
	Use:   "extract [path|glob]...",
	Short: "Render the diagrams in Markdown files to HTML pages",
	Long: `Converts Markdown files to HTML and replaces every diagram code block with
the rendered diagram. Directories are searched for Markdown files; other
arguments are files or ** globs. Each page is written next to its source
unless --out is given.`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringP("out", "o", "", "output directory (default: next to each source)")
	extractCmd.Flags().StringSlice("exclude", nil, "glob patterns to skip")
	extractCmd.Flags().Int("concurrency", 4, "pages rendered in parallel")
	extractCmd.Flags().Bool("watch", false, "re-render pages when their source changes")
	extractCmd.Flags().Bool("no-cache", false, "do not read or write the render cache")
	rootCmd.AddCommand(extractCmd)
}

// extractJob is one source document and where its page goes.
type extractJob struct {
	file walker.FileInfo
	out  string
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	watch, _ := cmd.Flags().GetBool("watch")
	noCache, _ := cmd.Flags().GetBool("no-cache")

	if len(args) == 0 {
		args = []string{"."}
	}
	jobs, err := collectJobs(args, exclude, outDir)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No Markdown files found.")
		return nil
	}

	opts := renderOptions(cfg, nil)
	if !noCache {
		database, err := openDatabase(cfg)
		if err != nil {
			warnf("render cache unavailable: %v", err)
		} else {
			defer database.Close()
			opts = renderOptions(cfg, database)
		}
	}
	ex := markdown.New(render.NewAdapter(opts), markdown.Options{Selectors: cfg.Pipeline.Selectors})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	counts, err := extractAll(ctx, ex, jobs, concurrency, progress.NewReporter())
	if err != nil {
		return err
	}
	fmt.Printf("Rendered %d pages in %s: %d diagrams (%d local, %d remote, %d raw)\n",
		len(jobs), time.Since(start).Round(time.Millisecond),
		counts[render.StateRendered]+counts[render.StateRemote]+counts[render.StateRaw],
		counts[render.StateRendered], counts[render.StateRemote], counts[render.StateRaw])

	if !watch {
		return nil
	}
	fmt.Fprintln(os.Stderr, "Watching for changes (Ctrl+C to stop)...")
	return watchJobs(ctx, ex, jobs)
}

// collectJobs resolves arguments to documents. Duplicate paths collapse.
func collectJobs(args, exclude []string, outDir string) ([]extractJob, error) {
	seen := make(map[string]bool)
	var jobs []extractJob
	add := func(fi walker.FileInfo, base string) {
		if seen[fi.Path] {
			return
		}
		seen[fi.Path] = true
		jobs = append(jobs, extractJob{file: fi, out: outputPath(fi, base, outDir)})
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err == nil && info.IsDir():
			files, err := walker.Walk(walker.WalkerConfig{RootDir: arg, Exclude: exclude})
			if err != nil {
				return nil, err
			}
			for _, fi := range files {
				add(fi, arg)
			}
		case err == nil:
			fi, err := walker.Stat(arg)
			if err != nil {
				return nil, err
			}
			add(fi, filepath.Dir(arg))
		default:
			matches, gerr := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if gerr != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", arg, gerr)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no files match %q", arg)
			}
			base, _ := doublestar.SplitPattern(filepath.ToSlash(arg))
			for _, m := range matches {
				if walker.MatchesExclude(m, exclude) {
					continue
				}
				fi, err := walker.Stat(m)
				if err != nil {
					warnf("skipping %s: %v", m, err)
					continue
				}
				add(fi, filepath.FromSlash(base))
			}
		}
	}
	return jobs, nil
}

// outputPath maps a source to its page. With an output directory the
// source's path below base is kept.
func outputPath(fi walker.FileInfo, base, outDir string) string {
	page := strings.TrimSuffix(fi.Path, filepath.Ext(fi.Path)) + ".html"
	if outDir == "" {
		return page
	}
	rel := filepath.Base(page)
	if absBase, err := filepath.Abs(base); err == nil {
		if r, err := filepath.Rel(absBase, page); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	return filepath.Join(outDir, rel)
}

// extractAll renders every job with bounded parallelism and tallies the
// diagram states.
func extractAll(ctx context.Context, ex *markdown.Extractor, jobs []extractJob, concurrency int, rep progress.Reporter) (map[render.State]int, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	rep.Start(len(jobs))
	defer rep.Finish()

	var (
		mu     sync.Mutex
		counts = make(map[render.State]int)
		done   atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			res, err := extractOne(gctx, ex, job)
			if err != nil {
				return err
			}
			mu.Lock()
			for st, n := range res.Counts() {
				counts[st] += n
			}
			mu.Unlock()
			rep.Update(int(done.Add(1)), job.file.RelPath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

func extractOne(ctx context.Context, ex *markdown.Extractor, job extractJob) (*markdown.Result, error) {
	src, err := os.ReadFile(job.file.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", job.file.RelPath, err)
	}
	title := strings.TrimSuffix(filepath.Base(job.file.Path), filepath.Ext(job.file.Path))
	res, err := ex.Extract(ctx, title, src)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", job.file.RelPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(job.out), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(job.out, []byte(res.HTML), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", job.out, err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "%s -> %s (%d diagrams)\n", job.file.RelPath, job.out, len(res.Diagrams))
	}
	return res, nil
}

// watchJobs re-renders a page when its source content changes. Editors
// often write a file several times in a row, so events settle briefly
// before a render.
func watchJobs(ctx context.Context, ex *markdown.Extractor, jobs []extractJob) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	byPath := make(map[string]*extractJob, len(jobs))
	dirs := make(map[string]bool)
	for i := range jobs {
		byPath[jobs[i].file.Path] = &jobs[i]
		dirs[filepath.Dir(jobs[i].file.Path)] = true
	}
	// Watching directories survives editors that replace files on save.
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	const settle = 200 * time.Millisecond
	pending := make(map[string]bool)
	timer := time.NewTimer(settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			warnf("watcher: %v", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if _, tracked := byPath[ev.Name]; tracked {
				pending[ev.Name] = true
				timer.Reset(settle)
			}
		case <-timer.C:
			for path := range pending {
				delete(pending, path)
				job := byPath[path]
				hash, err := walker.HashFile(path)
				if err != nil || hash == job.file.ContentHash {
					continue
				}
				job.file.ContentHash = hash
				res, err := extractOne(ctx, ex, *job)
				if err != nil {
					warnf("%v", err)
					continue
				}
				fmt.Fprintf(os.Stderr, "%s  %s: %d diagrams\n", time.Now().Format("15:04:05"), job.file.RelPath, len(res.Diagrams))
			}
		}
	}
}
