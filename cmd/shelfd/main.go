package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/shelfd/internal/api"
	"github.com/banshee-data/shelfd/internal/config"
	"github.com/banshee-data/shelfd/internal/engine"
	"github.com/banshee-data/shelfd/internal/events"
	"github.com/banshee-data/shelfd/internal/health"
	"github.com/banshee-data/shelfd/internal/ipc"
	"github.com/banshee-data/shelfd/internal/journal"
	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/security"
	"github.com/banshee-data/shelfd/internal/shelf"
	"github.com/banshee-data/shelfd/internal/source"
	"github.com/banshee-data/shelfd/internal/timeutil"
	"github.com/banshee-data/shelfd/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	configPath  = flag.String("config", "", "Settings JSON file, reloaded when it changes (default "+config.DefaultSettingsPath+" if present)")
	serialPath  = flag.String("serial", "", "Serial device of a pointer bridge (e.g. /dev/ttyUSB0)")
	baud        = flag.Int("baud", 115200, "Serial baud rate")
	inferDrags  = flag.Bool("infer-drags", false, "Derive drag start/end from button state on the serial or replay source")
	replayPath  = flag.String("replay", "", "Replay a recorded fixture instead of a live device")
	replayLoop  = flag.Bool("replay-loop", false, "Restart the replay when it ends")
	journalPath = flag.String("journal", "shelfd.db", "SQLite event journal (empty disables)")
	ipcAddr     = flag.String("ipc", "localhost:50061", "gRPC event stream address (empty disables)")
	allowRoots  = flag.String("allow-roots", "", "Comma-separated directories dropped files must live under (empty allows any absolute path)")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *serialPath != "" && *replayPath != "" {
		log.Fatal("-serial and -replay are mutually exclusive")
	}
	if *debug {
		monitoring.SetDebugLogger(os.Stderr)
	}
	log.Printf("shelfd %s", version.String())

	if *configPath == "" {
		if _, err := os.Stat(config.DefaultSettingsPath); err == nil {
			*configPath = config.DefaultSettingsPath
		}
	}
	store, err := loadStore(*configPath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	src := newSource()
	clock := timeutil.RealClock{}
	router := events.NewRouter(clock)
	router.Subscribe("log", func(ev events.Event) {
		monitoring.Debugf("[event] %s shelf=%s session=%s", ev.Kind, ev.ShelfID, ev.SessionID)
	})

	var jr *journal.Journal
	if *journalPath != "" {
		jr, err = journal.Open(*journalPath)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer jr.Close()
		jr.Attach(router)
	}

	mon := health.NewMonitor(clock, health.DefaultThresholds())
	eng := engine.New(engine.Options{
		Source:  src,
		Clock:   clock,
		Store:   store,
		Windows: shelf.NewHeadlessWindows(),
		Router:  router,
		Health:  mon,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		if errors.Is(err, source.ErrSourceUnavailable) {
			log.Fatalf("pointer source unavailable: %v\n"+
				"Grant input-monitoring permission, connect the device, or pass -replay with a fixture.", err)
		}
		log.Fatalf("failed to start engine: %v", err)
	}

	// consumer loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("engine loop exited: %v", err)
		}
		log.Print("engine routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx, time.Second)
	}()

	if jr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jr.Run(ctx)
			log.Print("journal routine terminated")
		}()
	}

	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, store)
		if err != nil {
			log.Printf("settings live reload disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("settings watcher: %v", err)
				}
			}()
		}
	}

	var pub *ipc.Publisher
	if *ipcAddr != "" {
		cfg := ipc.DefaultConfig()
		cfg.ListenAddr = *ipcAddr
		pub = ipc.NewPublisher(cfg, router)
		if err := pub.Start(); err != nil {
			log.Fatalf("failed to start event stream: %v", err)
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(eng, store, jr)
		if *configPath != "" {
			apiServer.PersistSettingsTo(*configPath)
		}
		apiServer.SetDropPolicy(dropPolicy(*allowRoots))
		mux := apiServer.ServeMux()
		if jr != nil {
			if err := jr.AttachAdminRoutes(mux); err != nil {
				log.Printf("journal admin routes disabled: %v", err)
			}
		}

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("HTTP API listening on %s", *listen)

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shutdown server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")
	if err := eng.Stop(); err != nil {
		log.Printf("failed to stop engine: %v", err)
	}
	if pub != nil {
		pub.Stop()
	}
	wg.Wait()
	log.Print("graceful shutdown complete")
}

// loadStore builds the settings store from defaults plus the optional file.
// A missing file is created with the defaults so it can be edited live.
func loadStore(path string) (*config.Store, error) {
	defaults := config.DefaultSettings()
	if path == "" {
		return config.NewStore(defaults), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := config.WriteSettings(path, defaults); err != nil {
			return nil, err
		}
		log.Printf("wrote default settings to %s", path)
		return config.NewStore(defaults), nil
	}
	loaded, err := config.LoadSettings(path)
	if err != nil {
		return nil, err
	}
	merged := defaults.Merge(loaded)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, config.ErrInvalidSettings, err)
	}
	return config.NewStore(merged), nil
}

func dropPolicy(roots string) security.DropPolicy {
	var p security.DropPolicy
	for _, r := range strings.Split(roots, ",") {
		if r = strings.TrimSpace(r); r != "" {
			p.AllowedRoots = append(p.AllowedRoots, r)
		}
	}
	return p
}

// newSource picks the pointer source from flags. With none configured the
// engine refuses to start rather than running without input.
func newSource() source.Source {
	heuristic := source.DefaultHeuristicConfig()
	switch {
	case *serialPath != "":
		s := source.NewSerialSource(*serialPath, source.PortOptions{BaudRate: *baud})
		s.InferDrags = *inferDrags
		s.Heuristic = heuristic
		return s
	case *replayPath != "":
		r := source.NewReplayFile(*replayPath, timeutil.RealClock{})
		r.Loop = *replayLoop
		r.InferDrags = *inferDrags
		r.Heuristic = heuristic
		return r
	default:
		return source.DisabledSource{Reason: "no pointer source configured (use -serial or -replay)"}
	}
}
