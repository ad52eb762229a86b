package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	echoapi "github.com/trezcool/peereval/apps/api/echo"
	"github.com/trezcool/peereval/apps/shared"
	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/evaluation"
	"github.com/trezcool/peereval/core/roster"
	"github.com/trezcool/peereval/core/session"
	emailsvc "github.com/trezcool/peereval/services/email"
	logsvc "github.com/trezcool/peereval/services/logger"
)

// idle sessions are pruned this often
const pruneInterval = 10 * time.Minute

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	zl, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatalf("setting up zap: %v", err)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	defer logger.Close()

	crs, err := shared.LoadDomain(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("configuration: %v", err), err)
	}

	rosterSrc, err := roster.OpenFile(conf.Roster.File, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading roster: %v", err), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := shared.OpenResults(ctx, conf, crs, true /* migrate */)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up results store: %v", err), err)
	}
	defer func() {
		if err = results.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing results store: %v", err), err)
		}
	}()

	// set up services
	mailSvc, err := emailsvc.New(conf, log.New(os.Stdout, "EMAIL : ", log.LstdFlags))
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up email: %v", err), err)
	}
	sessStore := session.NewStore(conf.Server.SessionTTL)
	sessSvc := session.NewService(sessStore, rosterSrc, mailSvc, session.Options{
		MaxCodeAttempts: conf.Auth.MaxCodeAttempts,
		CodeTTL:         conf.Auth.CodeTTL,
	})
	evalSvc := evaluation.NewService(results.Repo, crs, conf.Results.MaxConflictRetries)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build),
		map[string]interface{}{"students": rosterSrc.Current().Len(), "results": conf.Results.Backend})
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf.AppName, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.Publish("sessions", expvar.Func(func() interface{} { return sessStore.Len() }))
	expvar.Publish("students", expvar.Func(func() interface{} { return rosterSrc.Current().Len() }))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start background jobs

	g, gctx := errgroup.WithContext(ctx)
	if conf.Roster.Watch {
		g.Go(func() error { return rosterSrc.Watch(gctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := sessStore.Prune(); n > 0 {
					logger.Debug(fmt.Sprintf("pruned %d idle sessions", n))
				}
			}
		}
	})

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			Roster:        rosterSrc,
			SessionSvc:    sessSvc,
			EvaluationSvc: evalSvc,
			Validate:      validate,
			Translator:    translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	jobs := make(chan error, 1)
	go func() { jobs <- g.Wait() }()

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case err = <-jobs:
		if err != nil {
			logger.Error(fmt.Sprintf("background job failed: %v", err), err)
		}

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	}
	cancel()

	// give outstanding requests a deadline for completion
	sctx, scancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer scancel()

	// asking listener to shutdown and shed load
	if err = server.Shutdown(sctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

		if err = server.Close(); err != nil {
			logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
		}
	}
}
