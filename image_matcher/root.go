package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mattanapol/image_matcher/internal/config"
	"github.com/mattanapol/image_matcher/internal/dataset"
	"github.com/mattanapol/image_matcher/internal/features"
	"github.com/mattanapol/image_matcher/internal/features/patchhash"
	"github.com/mattanapol/image_matcher/internal/framegrab"
	"github.com/mattanapol/image_matcher/internal/logger"
	"github.com/mattanapol/image_matcher/internal/matcher"
)

const rootLongDesc string = `image_matcher finds which dataset image a query image shows.

Every image in the dataset directory is indexed once at startup. Filenames
typed at the prompt are resolved against the query directory and matched
against the whole dataset; the best match is printed with the time taken.

Settings come from flags, IMAGE_MATCHER_* environment variables and
image_matcher.toml, in that order.`

const rootShortDesc string = "Match query images against a dataset of templates"

// flagBinding ties a command line flag to its dotted config key.
type flagBinding struct {
	flag string
	key  string
}

var flagBindings = []flagBinding{
	{"dataset", "dataset.dir"},
	{"dataset-workers", "dataset.workers"},
	{"query-dir", "query.dir"},
	{"example", "query.example"},
	{"history", "query.history_file"},
	{"top", "query.top"},
	{"backend", "matching.backend"},
	{"matcher", "matching.matcher"},
	{"max-features", "matching.max_features"},
	{"ratio", "matching.ratio"},
	{"workers", "matching.workers"},
	{"video-position", "video.position"},
	{"debug", "debug"},
}

func newRootCmd() *cobra.Command {
	var configFile string
	def := config.NewDefaultConfig()

	cmd := &cobra.Command{
		Use:           "image_matcher",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.InitViper(configFile)
			if err != nil {
				return err
			}
			if err := bindFlags(cmd, v); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a TOML config file")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	f := cmd.Flags()
	f.String("dataset", def.Dataset.Dir, "Directory of template images")
	f.Int("dataset-workers", def.Dataset.Workers, "Concurrent feature extractions while indexing")
	f.String("query-dir", def.Query.Dir, "Directory query filenames are resolved against")
	f.String("example", def.Query.Example, "Query matched once at startup if present")
	f.String("history", def.Query.HistoryFile, "CSV file receiving one row per query")
	f.Int("top", def.Query.Top, "Number of ranked candidates to print")
	f.String("backend", def.Matching.Backend, "Feature backend: orb or patchhash")
	f.String("matcher", def.Matching.Matcher, "ORB descriptor matcher: bf or flann")
	f.Int("max-features", def.Matching.MaxFeatures, "Maximum keypoints kept per image")
	f.Float64("ratio", def.Matching.Ratio, "Ratio test threshold")
	f.Int("workers", def.Matching.Workers, "Concurrent comparisons per query")
	f.Float64("video-position", def.Video.Position, "Frame position used for video queries, 0 to 1")

	cmd.AddCommand(newConfigCmd())

	return cmd
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for _, b := range flagBindings {
		flag := cmd.Flag(b.flag)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", b.flag)
		}
		if err := v.BindPFlag(b.key, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", b.flag, err)
		}
	}
	return nil
}

// newBackend returns the feature backend selected by cfg.
func newBackend(cfg *config.Config) (features.Backend, error) {
	switch cfg.Matching.Backend {
	case config.BackendORB:
		return newORBBackend(cfg)
	case config.BackendPatchHash:
		return patchhash.New(&patchhash.Options{MaxFeatures: cfg.Matching.MaxFeatures}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Matching.Backend)
	}
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	log := logger.NewLogger(cfg.Debug)
	defer func() { _ = log.Sync() }()

	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	log.Debug("feature backend ready", zap.String("backend", backend.Name()))

	fmt.Fprintln(out, "Loading Images...")
	start := time.Now()
	cache, err := dataset.Build(ctx, cfg.Dataset.Dir, backend, &dataset.BuildOptions{
		Workers:  cfg.Dataset.Workers,
		Progress: out,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer cache.Close()

	fmt.Fprintf(out, "Successfully loaded %d images...\nTime Taken: %.2f sec\n", cache.Len(), time.Since(start).Seconds())
	fmt.Fprintln(out, "--------------------------------")
	if cache.Usable() == 0 {
		log.Warn("no dataset image produced descriptors", zap.String("dir", cfg.Dataset.Dir))
	}

	svc, err := matcher.NewService(&matcher.Config{
		Backend:         backend,
		Ratio:           cfg.Matching.Ratio,
		Workers:         cfg.Matching.Workers,
		VariantSuffixes: cfg.Matching.VariantSuffixes,
		Frames:          framegrab.New(cfg.Video.Position),
		Logger:          log,
	})
	if err != nil {
		return err
	}

	r := newREPL(in, out, svc, cache, &replOptions{
		QueryDir:    cfg.Query.Dir,
		Top:         cfg.Query.Top,
		HistoryFile: cfg.Query.HistoryFile,
		Logger:      log,
	})

	if cfg.Query.Example != "" {
		example := filepath.Join(cfg.Query.Dir, cfg.Query.Example)
		if _, err := os.Stat(example); err == nil {
			r.queryPath(ctx, example, example)
		} else {
			log.Debug("example query not found", zap.String("path", example))
		}
	}

	err = r.run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(out)
		return nil
	}
	return err
}
