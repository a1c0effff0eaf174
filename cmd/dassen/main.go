package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"nyiyui.ca/hato/dassen/config"
	"nyiyui.ca/hato/dassen/kujo"
	"nyiyui.ca/hato/dassen/persist"
	"nyiyui.ca/hato/dassen/sim"
	"nyiyui.ca/hato/dassen/train"
)

//go:embed report.tmpl
var reportTmpl string

var report = template.Must(template.New("report").Funcs(sprig.TxtFuncMap()).Parse(reportTmpl))

type options struct {
	configPath string
	dbPath     string
	ticks      int
	serve      string
	origins    []string
	pace       bool
	report     bool
}

func main() {
	defer zap.S().Sync()
	var o options
	level := zap.LevelFlag("log-level", zap.InfoLevel, "set log level")
	flag.StringVar(&o.configPath, "config", "dassen.json", "path to scenario config")
	flag.StringVar(&o.dbPath, "db", "", "path to the per-segment tag database (empty to disable, :memory: for a throwaway one)")
	flag.IntVar(&o.ticks, "ticks", -1, "ticks to run (-1 uses the config, 0 runs until interrupted)")
	flag.StringVar(&o.serve, "serve", "", "address to stream snapshots on, e.g. 0.0.0.0:8001")
	origin := flag.String("allowed-origin", "*", "CORS origin allowed to read the snapshot stream")
	flag.BoolVar(&o.pace, "pace", false, "pace ticks against wall time")
	flag.BoolVar(&o.report, "report", true, "print a report when done")
	flag.Parse()
	o.origins = []string{*origin}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	dev, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(dev)

	if err := run(o); err != nil {
		zap.S().Fatalf("%s", err)
	}
}

type summary struct {
	Sim    *sim.Simulator
	Trains []train.Snapshot
	Events map[string]int
	Log    []sim.Event
	Took   time.Duration
}

func run(o options) error {
	c, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.ticks >= 0 {
		c.Ticks = o.ticks
	}

	var store *persist.Store
	var saved map[uuid.UUID][]persist.Segment
	if o.dbPath != "" {
		store, err = persist.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		saved, err = store.Load()
		if err != nil {
			return fmt.Errorf("load tags: %w", err)
		}
		zap.S().Infof("loaded tags of %d trains", len(saved))
	}

	s, err := sim.Build(c, saved, train.RigidFactory)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	sum := summary{Sim: s, Events: map[string]int{}}
	s.OnEvent().Add("report", func(e sim.Event) bool {
		sum.Events[e.Kind.String()]++
		if e.Kind != sim.EventCoupled && e.Kind != sim.EventUncoupled {
			sum.Log = append(sum.Log, e)
		}
		return true
	})

	var srv *http.Server
	var ks *kujo.Server
	if o.serve != "" {
		zap.S().Infof("starting kujo on %s…", o.serve)
		ks = kujo.NewServer(s.Snapshots())
		mux := http.NewServeMux()
		mux.Handle("/events", ks)
		srv = &http.Server{
			Addr:    o.serve,
			Handler: cors.New(cors.Options{AllowedOrigins: o.origins}).Handler(mux),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.S().Errorw("kujo server failed", "err", err)
			}
		}()
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		zap.S().Infof("interrupted, stopping…")
		close(stop)
	}()

	zap.S().Infof("starting simulation: %d trains, %d ticks of %.4f s", len(s.Trains()), c.Ticks, c.DT)
	start := time.Now()
	s.Run(c.Ticks, c.DT, o.pace || c.Ticks == 0, stop)
	sum.Took = time.Since(start)
	zap.S().Infof("stopped at %s", s)

	if srv != nil {
		// closing the streams first lets Shutdown find the connections idle
		ks.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			zap.S().Errorw("kujo shutdown failed", "err", err)
		}
	}

	if store != nil {
		if err := s.Save(store); err != nil {
			zap.S().Errorw("saving tags failed", "err", err)
		}
	}

	if o.report {
		sum.Trains = s.Snapshot().Trains
		if err := report.Execute(os.Stdout, sum); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	return nil
}
