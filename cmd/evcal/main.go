package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"evcal/internal/backup"
	"evcal/internal/blob"
	"evcal/internal/calendar"
	"evcal/internal/capture"
	"evcal/internal/config"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/metrics"
	"evcal/internal/model"
	"evcal/internal/store"
	"evcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	snapshot   string
	importSrc  string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(flags.envFile)

	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("evcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"storage_backend", conf.Storage.Backend,
		"storage_path", conf.Storage.Path,
		"backup_cron", conf.Backup.Cron,
		"snapshot", flags.snapshot,
		"import", flags.importSrc != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("evcal failed", err)
		os.Exit(1)
	}
	appLog.Info("evcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc := conf.Location()

	blobs, err := blob.Open(ctx, conf.Storage.Backend, conf.Storage.Path)
	if err != nil {
		return err
	}
	defer blobs.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	events := store.New(blobs, store.Options{
		Key:      conf.Storage.Key,
		Location: loc,
		Metrics:  m,
	})
	events.Load(ctx)

	ctrl := calendar.New(events, calendar.Options{
		Location:  loc,
		WeekStart: conf.FirstWeekday(),
		Metrics:   m,
	})

	if flags.importSrc != "" {
		return importCalendar(ctx, conf, ctrl, flags.importSrc)
	}

	srv := web.NewServer(conf, ctrl, reg)

	if flags.snapshot != "" {
		return snapshot(ctx, conf, srv, flags.snapshot)
	}

	bk := backup.New(blobs, conf.Storage.Key, conf.Backup)
	if err := bk.Start(ctx, conf.Backup.Cron); err != nil {
		return err
	}
	defer bk.Stop()

	serveErr := srv.ListenAndServe(ctx)

	// Handlers are done; write the final state once more before exit.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := events.Flush(flushCtx); err != nil {
		appLog.Error("final flush failed", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// importCalendar reads an ICS file or URL into the store and returns.
func importCalendar(ctx context.Context, conf *config.Config, ctrl *calendar.Controller, src string) error {
	var (
		body []byte
		err  error
	)
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		body, _, err = ics.NewFetcher(conf.ImportCacheDir).Fetch(ctx, src)
	} else {
		body, err = os.ReadFile(src)
	}
	if err != nil {
		return err
	}

	today := model.StartOfDay(time.Now().In(ctrl.Location()))
	decoded, err := ics.Decode("cli", body, ics.ExpandConfig{
		Location:   ctrl.Location(),
		RangeStart: model.AddDays(today, -366),
		RangeEnd:   model.AddDays(today, 366),
	})
	if err != nil {
		return err
	}

	added, err := ctrl.Import(ctx, decoded)
	if err != nil {
		return err
	}
	appLog.Info("import done", "decoded", len(decoded), "added", added, "warning", ctrl.Warning())
	return nil
}

// snapshot serves the UI on an ephemeral loopback port just long enough to
// capture /calendar.
func snapshot(ctx context.Context, conf *config.Config, srv *web.Server, out string) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	hs := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("snapshot server failed", err)
		}
	}()
	defer hs.Close()

	u := url.URL{Scheme: "http", Host: ln.Addr().String(), Path: "/calendar"}
	if conf.BasicAuth != nil && conf.BasicAuth.Username != "" {
		u.User = url.UserPassword(conf.BasicAuth.Username, conf.BasicAuth.Password)
	}

	return capture.Snapshot(ctx, capture.Options{
		URL:        u.String(),
		OutputPath: out,
		Width:      conf.Capture.Width,
		Height:     conf.Capture.Height,
		Timeout:    time.Duration(conf.Capture.TimeoutSec) * time.Second,
	})
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./evcal.yaml", "Path to config file (written with defaults if missing)")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional .env file with EVCAL_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Render /calendar to this PNG path and exit")
	flag.StringVar(&cfg.importSrc, "import", "", "Import an ICS file or URL into the store and exit")

	flag.Parse()

	return cfg
}
