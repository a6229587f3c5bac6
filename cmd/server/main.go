package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/taxcodex/t1fill/internal/api"
	"github.com/taxcodex/t1fill/internal/config"
	"github.com/taxcodex/t1fill/internal/extract"
	"github.com/taxcodex/t1fill/internal/filler"
	"github.com/taxcodex/t1fill/internal/mapping"
	"github.com/taxcodex/t1fill/internal/pipeline"
	"github.com/taxcodex/t1fill/internal/resolver"
	"github.com/taxcodex/t1fill/internal/rules"
	"github.com/taxcodex/t1fill/internal/store"
	"github.com/taxcodex/t1fill/internal/template"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load the rule table up front. A malformed or cyclic table must never
	// serve requests.
	var (
		ruleSet *rules.Set
		err     error
	)
	if cfg.RulesPath != "" {
		ruleSet, err = rules.LoadFile(cfg.RulesPath)
	} else {
		ruleSet, err = rules.Default()
	}
	if err != nil {
		var cycle *rules.CycleError
		if errors.As(err, &cycle) {
			log.Error("rule table has a dependency cycle", "lines", cycle.Lines)
		} else {
			log.Error("invalid rule table", "error", err)
		}
		os.Exit(1)
	}
	log.Info("rule table loaded",
		"version", ruleSet.Version,
		"jurisdiction", ruleSet.Jurisdiction,
		"rules", ruleSet.Len(),
	)

	// Template storage and cache.
	st, err := store.New(store.Config{
		Type:         store.Type(cfg.StorageType),
		LocalPath:    cfg.StorageLocalPath,
		S3Bucket:     cfg.S3Bucket,
		S3Region:     cfg.S3Region,
		AWSAccessKey: cfg.AWSAccessKey,
		AWSSecretKey: cfg.AWSSecretKey,
	})
	if err != nil {
		log.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	src := template.NewStoreSource(st, template.Keys{
		Version: cfg.TemplateVersionKey,
		PDF:     cfg.TemplatePDFKey,
		Catalog: cfg.TemplateCatalogKey,
	})
	cache := template.NewCache(src, cfg.FetchTimeout, log)

	// Pipeline stages.
	ex := extract.New(cfg.TaxYear, cfg.MaxConcurrentExtract, log)
	eng := mapping.NewEngine(ruleSet, cfg.StrictCodes, log)
	res := resolver.New(cache, log)
	fi := filler.New(st, cfg.SaveOutput, cfg.OutputPrefix, cfg.MaxConcurrentFill, log)

	orch := pipeline.NewOrchestrator(ex, eng, res, fi, cfg.RunTTL, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting t1fill", "port", cfg.Port, "tax_year", cfg.TaxYear, "storage", cfg.StorageType)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
