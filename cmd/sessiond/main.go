package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cartsync/internal/config"
	"cartsync/internal/coordinator"
	"cartsync/internal/fixture"
	"cartsync/internal/journal"
	"cartsync/internal/kv"
	"cartsync/internal/logger"
	"cartsync/internal/metrics"
	"cartsync/internal/script"
	"cartsync/internal/session"
)

// Flags holds CLI flags for sessiond. Everything else comes from config.
type Flags struct {
	ConfigPath  string
	ScriptPath  string
	FixturePath string
	Resume      bool
	Serve       bool
}

func main() {
	f := readFlags()
	if err := run(f); err != nil {
		log.Fatalf("sessiond failed: %v", err)
	}
}

func readFlags() Flags {
	var f Flags
	flag.StringVar(&f.ConfigPath, "config", "", "config file (default: ./config.yaml or ./etc/config.yaml)")
	flag.StringVar(&f.ScriptPath, "script", "", "session script, one JSON step per line (empty: none)")
	flag.StringVar(&f.FixturePath, "fixture", "", "backend fixture with products and orders")
	flag.BoolVar(&f.Resume, "resume", true, "sign in from persisted credentials at start")
	flag.BoolVar(&f.Serve, "serve", false, "keep serving /metrics after the script finished")
	flag.Parse()
	return f
}

func run(f Flags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	lg := logger.New(cfg.App.Mode, cfg.Log.ToLoggerOptions())
	defer lg.Sync()
	lg.Info("starting sessiond",
		zap.String("config", cfg.File),
		zap.String("store", cfg.Store.Backend),
		zap.String("journal", cfg.Journal.Sink))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := kv.Open(ctx, cfg.Store.ToKVOptions())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	jw, closeJournal, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer closeJournal()

	backend, err := fixture.Load(f.FixturePath, lg.Named("fixture"))
	if err != nil {
		return err
	}

	mreg := metrics.NewRegistry()
	coord := coordinator.New(coordinator.Options{
		Store:       session.NewCartStore(st),
		Orders:      backend,
		Checkout:    backend,
		Updater:     backend,
		Catalog:     backend,
		Journal:     journal.NewRecorder(jw),
		Metrics:     mreg,
		Logger:      lg.Named("coordinator"),
		SaveTimeout: cfg.Session.SaveTimeout(),
	})
	defer coord.Close()

	var steps []script.Step
	if f.ScriptPath != "" {
		sf, err := os.Open(f.ScriptPath)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		steps, err = script.Decode(sf)
		sf.Close()
		if err != nil {
			return fmt.Errorf("decode script: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := newServer(cfg.Metrics.Addr, mreg)
	if srv != nil {
		g.Go(func() error {
			lg.Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		if f.Resume {
			resumed, err := coord.Resume(gctx)
			if err != nil {
				lg.Warn("resume failed", zap.Error(err))
			} else if resumed {
				id, _ := coord.Identity()
				lg.Info("resumed session", zap.String("identity", id.ID))
			}
		}
		res, err := script.Run(gctx, coord, steps, lg.Named("script"))
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if err := coord.Flush(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		c := coord.Cart()
		lg.Info("script finished",
			zap.Int("steps", res.Steps),
			zap.Int("rejected", res.Rejected),
			zap.Int("total_quantity", c.TotalQuantity()),
			zap.String("total_price", c.TotalPrice().String()))
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-done:
			if f.Serve {
				<-gctx.Done()
			}
		}
		if srv == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newServer(addr string, mreg *metrics.Registry) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", mreg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// openJournal builds the configured sink. The returned close func is never nil.
func openJournal(cfg config.JournalConfig) (journal.Writer, func(), error) {
	var writers []journal.Writer
	closeFn := func() {}
	if cfg.Sink == "file" || cfg.Sink == "both" {
		fw, err := journal.NewFileWriter(cfg.Dir, cfg.Filename)
		if err != nil {
			return nil, closeFn, fmt.Errorf("init journal file: %w", err)
		}
		writers = append(writers, fw)
	}
	if (cfg.Sink == "kafka" || cfg.Sink == "both") && cfg.KafkaBootstrap != "" {
		kw := journal.NewKafkaWriter(cfg.KafkaBootstrap, cfg.Topic)
		writers = append(writers, kw)
		closeFn = func() { _ = kw.Close() }
	}
	switch len(writers) {
	case 0:
		return journal.Nop{}, closeFn, nil
	case 1:
		return writers[0], closeFn, nil
	default:
		return journal.NewMultiWriter(writers...), closeFn, nil
	}
}
