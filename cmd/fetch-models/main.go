// Command fetch-models downloads the pretrained models listed in a manifest
// into the local model cache.
package main

import (
	"context"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/config"
	"github.com/nijaru/yt-analyze/logger"
	"github.com/nijaru/yt-analyze/modelcache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var (
		manifestPath = flag.String("manifest", cfg.Models.ManifestPath, "model manifest (YAML)")
		dir          = flag.String("dir", cfg.Models.Dir, "directory to store models in")
		only         = flag.String("only", "", "comma-separated model names to fetch")
		force        = flag.Bool("force", false, "re-download files that already exist")
		concurrency  = flag.Int("concurrency", 2, "models downloaded in parallel")
		quiet        = flag.Bool("quiet", false, "disable progress bars")
	)
	flag.Parse()

	logr, err := logger.New(cfg.LogDir, cfg.LogLevel, cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	manifest, err := modelcache.LoadManifest(*manifestPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		logr.WithField("manifest", *manifestPath).Info("Manifest not found, using built-in model list")
		manifest = modelcache.DefaultManifest()
	default:
		logr.WithError(err).Fatal("Failed to load manifest")
	}

	if *only != "" {
		manifest = filter(manifest, strings.Split(*only, ","), logr)
	}

	opts := []modelcache.Option{
		modelcache.WithToken(os.Getenv("HF_TOKEN")),
		modelcache.WithForce(*force),
		modelcache.WithConcurrency(*concurrency),
		modelcache.WithLogger(logr),
	}
	if base := os.Getenv("HF_ENDPOINT"); base != "" {
		opts = append(opts, modelcache.WithBaseURL(base))
	}
	if !*quiet {
		opts = append(opts, modelcache.WithProgress(os.Stderr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := modelcache.NewDownloader(opts...).Fetch(ctx, manifest, *dir)
	fields := logrus.Fields{
		"downloaded": res.Downloaded,
		"skipped":    res.Skipped,
		"missing":    res.Missing,
		"dir":        *dir,
	}
	if err != nil {
		logr.WithError(err).WithFields(fields).Fatal("Model download failed")
	}
	logr.WithFields(fields).Info("Models ready")
}

func filter(m *modelcache.Manifest, names []string, logr *logrus.Logger) *modelcache.Manifest {
	out := &modelcache.Manifest{}
	for _, name := range names {
		model, ok := m.Find(strings.TrimSpace(name))
		if !ok {
			logr.WithField("model", name).Fatal("Model not in manifest")
		}
		out.Models = append(out.Models, model)
	}
	return out
}
