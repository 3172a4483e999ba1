package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/mattanapol/image_matcher/internal/common"
	"github.com/mattanapol/image_matcher/internal/features"
	"github.com/mattanapol/image_matcher/internal/file_helper"
	"github.com/mattanapol/image_matcher/internal/logger"
)

var errNotImage = errors.New("not an image")

type BuildOptions struct {
	// Workers bounds the extraction pool. 0 means one worker per CPU; 1 runs
	// sequentially on the calling goroutine.
	Workers int

	// Progress receives a progress bar. Nil keeps the build silent.
	Progress io.Writer

	Logger *zap.Logger
}

// BuildJob is one dataset file waiting for feature extraction.
type BuildJob struct {
	Name string
	Path string
}

// BuildResult is the outcome of one BuildJob.
type BuildResult struct {
	Job   BuildJob
	Entry *Entry
	Err   error
}

// Build extracts features from every image directly inside dir. Files that
// cannot be read or decoded are logged and skipped; only a failure to list
// dir, or ctx being cancelled, is returned as an error.
func Build(ctx context.Context, dir string, extractor features.Extractor, opts *BuildOptions) (*Cache, error) {
	o := BuildOptions{}
	if opts != nil {
		o = *opts
	}
	log := logger.OrNop(o.Logger)

	jobs, err := ListImages(dir)
	if err != nil {
		return nil, err
	}

	workers := o.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	log.Debug("building dataset cache",
		zap.String("dir", dir),
		zap.Int("files", len(jobs)),
		zap.Int("workers", workers),
	)

	bar := newProgressBar(len(jobs), o.Progress)
	cache := NewCache(dir)

	collect := func(res BuildResult) {
		_ = bar.Add(1)
		switch {
		case errors.Is(res.Err, errNotImage):
			log.Debug("skipping non-image file", zap.String("file", res.Job.Name))
		case res.Err != nil:
			log.Warn("could not process image", zap.String("file", res.Job.Name), zap.Error(res.Err))
		default:
			cache.entries[res.Entry.Name] = res.Entry
		}
	}

	if workers == 1 {
		for _, job := range jobs {
			if ctx.Err() != nil {
				break
			}
			collect(processJob(job, extractor))
		}
	} else {
		for res := range runPool(ctx, jobs, extractor, workers) {
			collect(res)
		}
	}
	_ = bar.Finish()

	if err := ctx.Err(); err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("building cache for %s: %w", dir, err)
	}

	log.Debug("dataset cache built",
		zap.Int("entries", cache.Len()),
		zap.Int("usable", cache.Usable()),
	)
	return cache, nil
}

// runPool fans jobs out to workers and streams their results. The returned
// channel is closed once every worker has finished.
func runPool(ctx context.Context, jobs []BuildJob, extractor features.Extractor, workers int) <-chan BuildResult {
	jobCh := make(chan BuildJob, workers*2)
	results := make(chan BuildResult, workers*2)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				results <- processJob(job, extractor)
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case <-ctx.Done():
				return
			case jobCh <- job:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

func processJob(job BuildJob, extractor features.Extractor) BuildResult {
	kind, err := file_helper.Sniff(job.Path)
	if err != nil {
		return BuildResult{Job: job, Err: err}
	}
	if kind != file_helper.KindImage {
		return BuildResult{Job: job, Err: fmt.Errorf("%s is %s: %w", job.Name, kind, errNotImage)}
	}

	img, err := features.LoadGray(job.Path)
	if err != nil {
		return BuildResult{Job: job, Err: err}
	}

	kps, descs, err := extractor.Extract(img)
	if err != nil {
		return BuildResult{Job: job, Err: fmt.Errorf("extracting features from %s: %w", job.Name, err)}
	}

	return BuildResult{Job: job, Entry: &Entry{
		Name:        job.Name,
		Path:        job.Path,
		Keypoints:   kps,
		Descriptors: descs,
	}}
}

// ListImages returns a job for every regular file directly inside dir,
// leaving out hidden and system entries.
func ListImages(dir string) ([]BuildJob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading dataset directory %s: %w", dir, err)
	}

	jobs := make([]BuildJob, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || common.ShouldSkipEntry(entry.Name()) {
			continue
		}
		jobs = append(jobs, BuildJob{Name: entry.Name(), Path: filepath.Join(dir, entry.Name())})
	}
	return jobs, nil
}

func newProgressBar(total int, w io.Writer) *progressbar.ProgressBar {
	if w == nil {
		return progressbar.DefaultSilent(int64(total), "Loading Images")
	}
	return progressbar.NewOptions64(int64(total),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Loading Images"),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
	)
}
