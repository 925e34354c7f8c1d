// Command loopstats runs a synthetic loop closure cycle and publishes its
// per-cycle statistics to the log, a SQLite database, PNG plots, a debug
// web server and a gRPC snapshot stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/loopstats/internal/config"
	"github.com/banshee-data/loopstats/internal/monitor"
	"github.com/banshee-data/loopstats/internal/monitoring"
	"github.com/banshee-data/loopstats/internal/pipeline"
	"github.com/banshee-data/loopstats/internal/stats"
	"github.com/banshee-data/loopstats/internal/stats/logsink"
	"github.com/banshee-data/loopstats/internal/stats/stream"
	"github.com/banshee-data/loopstats/internal/storage/sqlite"
	"github.com/banshee-data/loopstats/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON config file")
	dbFile      = flag.String("db", "", "Path to the SQLite database file (overrides config; \"none\" disables)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config; \"none\" disables)")
	streamAddr  = flag.String("stream", "", "gRPC snapshot stream address (overrides config; \"none\" disables)")
	cycles      = flag.Int("cycles", -1, "Number of cycles to run, 0 until interrupted (overrides config)")
	interval    = flag.Duration("interval", 0, "Time between cycles (overrides config)")
	extended    = flag.Bool("extended", false, "Capture images, words and distributions")
	plotDir     = flag.String("plots", "", "Directory for distribution plots (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const disabled = "none"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("loopstats: %v", err)
	}
}

// loadConfig reads -config when given and applies the flags set on the
// command line on top of it.
func loadConfig() (*config.Config, error) {
	cfg := config.Empty()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			v := *dbFile
			if v == disabled {
				v = ""
			}
			cfg.DBPath = &v
		case "listen":
			v := *listen
			if v == disabled {
				v = ""
			}
			cfg.ListenAddr = &v
		case "stream":
			v := *streamAddr
			if v == disabled {
				v = ""
			}
			cfg.StreamAddr = &v
		case "cycles":
			cfg.Cycles = cycles
		case "interval":
			v := interval.String()
			cfg.CycleInterval = &v
		case "extended":
			cfg.ExtendedMode = extended
		case "plots":
			cfg.PlotDir = plotDir
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run wires the catalog, consumers and synthetic producer described by
// cfg and blocks until the configured cycles are done or ctx ends.
func run(ctx context.Context, cfg *config.Config) error {
	monitoring.SetVerbose(cfg.GetVerbose())
	monitoring.Logf("%s starting", version.String())

	catalog := stats.InitializeCatalog(cfg.ExtraMetrics...)
	pub := stats.NewPublisher()

	sink := logsink.New()
	sink.Every = cfg.GetLogEvery()
	sink.SkipZero = true
	if sink.Every > 0 {
		pub.Subscribe(sink)
	}

	var db *sqlite.DB
	if path := cfg.GetDBPath(); path != "" {
		var err error
		db, err = sqlite.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		store := sqlite.NewSnapshotStore(db.DB)
		if err := store.SaveCatalog(catalog.Defaults()); err != nil {
			return fmt.Errorf("failed to save catalog: %w", err)
		}
		recorder, err := sqlite.NewRunRecorder(store, &sqlite.Run{
			Extended:    cfg.GetExtendedMode(),
			Description: "synthetic " + version.Version,
		})
		if err != nil {
			return fmt.Errorf("failed to start run: %w", err)
		}
		pub.Subscribe(recorder)
		defer func() {
			offered, failed := recorder.Recorded()
			monitoring.Logf("[store] run %s: %d snapshots, %d failed", recorder.RunID(), offered, failed)
		}()
	}

	if dir := cfg.GetPlotDir(); dir != "" {
		pub.Subscribe(monitor.NewPlotWriter(dir))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	serverErr := make(chan error, 2)
	if addr := cfg.GetListenAddr(); addr != "" {
		ws, err := monitor.NewWebServer(monitor.WebServerConfig{
			Address: addr,
			Catalog: catalog,
			DB:      db,
		})
		if err != nil {
			return fmt.Errorf("failed to create web server: %w", err)
		}
		pub.Subscribe(ws)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(runCtx); err != nil {
				serverErr <- err
				cancel()
			}
		}()
	}

	if addr := cfg.GetStreamAddr(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen for snapshot stream: %w", err)
		}
		streamer := stream.NewServer()
		pub.Subscribe(streamer)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := streamer.Serve(runCtx, lis); err != nil {
				serverErr <- err
				cancel()
			}
		}()
	}

	src := pipeline.NewSyntheticSource(catalog, cfg.GetSeed())
	src.Extended = cfg.GetExtendedMode()

	n, err := src.Run(runCtx, cfg.GetCycles(), cfg.GetCycleInterval(), pub)
	monitoring.Logf("[pipeline] published %d snapshots", n)

	// A finite run keeps serving the last snapshot until interrupted.
	serving := cfg.GetListenAddr() != "" || cfg.GetStreamAddr() != ""
	if err == nil && serving && cfg.GetCycles() > 0 {
		monitoring.Logf("cycles done; serving until interrupted")
		<-runCtx.Done()
	}
	cancel()
	wg.Wait()

	select {
	case serr := <-serverErr:
		return serr
	default:
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
