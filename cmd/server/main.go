package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelsweep.dev/internal/persistence/auditlog"
	"voxelsweep.dev/internal/persistence/checkpoint"
	"voxelsweep.dev/internal/protect"
	"voxelsweep.dev/internal/sim/cleaner"
	"voxelsweep.dev/internal/sim/tuning"
	"voxelsweep.dev/internal/sim/world"
	"voxelsweep.dev/internal/transport/ws"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		worldID     = flag.String("world", "", "world id (overrides tuning)")
		seed        = flag.Int64("seed", 1337, "world seed")
		claimsGuard = flag.Bool("claims_protection", true, "enable the land-claim authorization source")
		statusEvery = flag.Duration("status_interval", 2*time.Second, "status broadcast interval")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	if *worldID != "" {
		tune.WorldID = *worldID
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	store, err := checkpoint.Open(filepath.Join(*dataDir, tune.Persistence.File), logger)
	if err != nil {
		logger.Fatalf("open checkpoint store: %v", err)
	}
	defer store.Close()

	auditSink := auditlog.NewSummaryLogger(*dataDir)
	defer auditSink.Close()

	w := world.New(world.WorldConfig{
		ID:         tune.WorldID,
		TickRateHz: tune.TickRateHz,
		MinLevel:   tune.MinLevel,
		MaxLevel:   tune.MinLevel + tune.Height,
		Seed:       *seed,
		BoundaryR:  tune.BoundaryR,
	}, logger)

	// Authorization sources are resolved once here; a job never probes
	// for them per tick.
	var sources []protect.PolicySource
	if *claimsGuard {
		sources = append(sources, protect.NewClaimsPolicy(w.Claims()))
	}
	gate := protect.NewGate(sources, w, auditSink, protect.Config{
		MaxEntriesPerFlush: tune.Audit.MaxEntriesPerFlush,
		QueueMaxSize:       tune.Audit.QueueMaxSize,
		QueueTrimTo:        tune.Audit.QueueTrimTo,
	}, logger)

	hub := ws.NewHub(logger)
	resolver := func(id string) *world.World {
		if id == w.ID() {
			return w
		}
		return nil
	}
	reg := cleaner.NewRegistry(tune, resolver, gate, store, w, hub, logger)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	// Resume jobs that survived the last shutdown.
	recs := store.LoadAll()
	for _, rec := range recs {
		reg.Restore(rec)
	}
	if len(recs) > 0 {
		logger.Printf("restored %d job(s)", len(recs))
	}

	tickDur := time.Second / time.Duration(tune.TickRateHz)
	go gate.RunFlusher(ctx.Done(), time.Duration(tune.Audit.FlushIntervalTicks)*tickDur)
	go hub.RunStatus(ctx.Done(), reg, *statusEvery)

	if tune.Persistence.AutosaveEnabled {
		go func() {
			ticker := time.NewTicker(time.Duration(tune.Persistence.AutosaveIntervalSeconds) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					store.SaveAll(reg.Records())
				}
			}
		}()
	}

	// SIGHUP re-reads the tuning file and pushes the new baselines to
	// every live job.
	go func() {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				next, err := tuning.Load(tp)
				if err != nil {
					logger.Printf("reload tuning: %v", err)
					continue
				}
				reg.BroadcastConfigChanged(next)
				logger.Printf("tuning reloaded from %s", tp)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(rw, "# HELP voxelsweep_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE voxelsweep_world_tick gauge\n")
		fmt.Fprintf(rw, "voxelsweep_world_tick{world=%q} %d\n", w.ID(), w.CurrentTick())

		fmt.Fprintf(rw, "# HELP voxelsweep_world_capacity Smoothed normalized tick headroom (1 = idle).\n")
		fmt.Fprintf(rw, "# TYPE voxelsweep_world_capacity gauge\n")
		fmt.Fprintf(rw, "voxelsweep_world_capacity{world=%q} %.4f\n", w.ID(), w.Capacity())

		fmt.Fprintf(rw, "# HELP voxelsweep_jobs Live clearing jobs.\n")
		fmt.Fprintf(rw, "# TYPE voxelsweep_jobs gauge\n")
		fmt.Fprintf(rw, "voxelsweep_jobs{world=%q} %d\n", w.ID(), reg.Count())

		fmt.Fprintf(rw, "# HELP voxelsweep_audit_queue Pending audit summaries.\n")
		fmt.Fprintf(rw, "# TYPE voxelsweep_audit_queue gauge\n")
		fmt.Fprintf(rw, "voxelsweep_audit_queue %d\n", gate.QueueLen())
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(w, reg, hub, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	if tune.Persistence.SaveOnShutdown {
		store.SaveAll(reg.Records())
	}
	reg.ShutdownAll()
	gate.Flush()
	logger.Printf("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
