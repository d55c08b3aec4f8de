// Command viewgroups attaches the entity group engine to a Chrome page and
// serves its message protocol to external orchestrators: a websocket endpoint
// for the request/response channel and a prometheus metrics endpoint.
//
// The engine itself never persists anything; group definitions are read once
// from the configured groups file and treated as external, read-only state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/germanamz/viewgroups/pkg/engine"
	"github.com/germanamz/viewgroups/pkg/gateway"
	"github.com/germanamz/viewgroups/pkg/host/chrome"
)

func main() {
	configPath := flag.String("config", "viewgroups.yaml", "path to configuration file")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	addr := flag.String("addr", ":8177", "listen address for the gateway server")
	pageURL := flag.String("url", "", "page to navigate to after launching Chrome")
	remote := flag.String("attach", "", "DevTools websocket URL of a running Chrome (launches one when empty)")
	headless := flag.Bool("headless", true, "run the launched Chrome headless")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, *addr, *pageURL, *remote, *headless, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path, ignoring a missing file.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func run(configPath, addr, pageURL, remote string, headless bool, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var groups engine.GroupProvider
	if cfg.GroupsFile != "" {
		loaded, err := engine.LoadGroups(cfg.GroupsFile)
		if err != nil {
			return err
		}
		groups = loaded
		logger.Info("groups loaded", "file", cfg.GroupsFile, "count", len(loaded))
	}

	tab, stop, err := attachChrome(ctx, remote, headless)
	if err != nil {
		return err
	}
	defer stop()

	if pageURL != "" {
		navCtx, navCancel := context.WithTimeout(tab, 30*time.Second)
		defer navCancel()
		if err := chromedp.Run(navCtx,
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		); err != nil {
			return fmt.Errorf("navigate %s: %w", pageURL, err)
		}
		logger.Info("attached to page", "url", pageURL)
	}

	eng, err := engine.New(chrome.Attach(tab), cfg, groups, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	gw := gateway.New(eng,
		gateway.WithLogger(logger),
		gateway.WithMetrics(gateway.NewMetrics(reg)),
	)

	r := chi.NewRouter()
	r.Handle("/ws", gateway.WebsocketHandler(gw, logger))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	return srv.Shutdown(shutCtx)
}

// attachChrome connects to a running Chrome over DevTools or launches a
// fresh one. Launched instances run incognito so the engine never touches a
// user profile.
func attachChrome(ctx context.Context, remote string, headless bool) (context.Context, func(), error) {
	if remote != "" {
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, remote)
		tab, tabCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(tab); err != nil {
			tabCancel()
			allocCancel()
			return nil, nil, fmt.Errorf("attach chrome: %w", err)
		}
		return tab, func() { tabCancel(); allocCancel() }, nil
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if !headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("incognito", true),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return nil, nil, fmt.Errorf("start chrome: %w", err)
	}
	return tab, func() { tabCancel(); allocCancel() }, nil
}
