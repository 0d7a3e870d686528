package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/convomesh/sentinel/internal/config"
	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/httpapi"
	"github.com/convomesh/sentinel/internal/journey"
	"github.com/convomesh/sentinel/internal/logging"
	"github.com/convomesh/sentinel/internal/platform"
	"github.com/convomesh/sentinel/internal/probe"
	"github.com/convomesh/sentinel/internal/repo"
	"github.com/convomesh/sentinel/internal/repo/memory"
	"github.com/convomesh/sentinel/internal/repo/sqlite"
	"github.com/convomesh/sentinel/internal/runlock"
	"github.com/convomesh/sentinel/internal/scheduler"
	"github.com/convomesh/sentinel/internal/status"
	"github.com/convomesh/sentinel/internal/xmpp"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instances, err := config.LoadChecks(cfg.ChecksFile)
	if err != nil {
		logger.Fatal("checks_load_error", zap.String("file", cfg.ChecksFile), zap.Error(err))
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store_open_error", zap.Error(err))
	}
	defer closeStore()

	ex := buildExecutor(cfg, logger)

	sched := scheduler.New(logger, ex, store, runlock.New())
	sched.Start(flatten(instances))
	defer sched.Stop()

	api := httpapi.NewServer(logger, instances, status.NewAggregator(store), sched)
	srv := &http.Server{Addr: cfg.Addr, Handler: api.Router()}

	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api_serve_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")
	sched.Stop()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}

func flatten(instances []domain.Instance) []domain.CheckDefinition {
	var out []domain.CheckDefinition
	for _, inst := range instances {
		if !inst.Enabled {
			continue
		}
		out = append(out, inst.Checks...)
	}
	return out
}

func openStore(ctx context.Context, cfg config.Config) (repo.ResultStore, func(), error) {
	if cfg.DatabasePath == "" {
		return memory.New(), func() {}, nil
	}
	db, err := sqlite.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

func buildExecutor(cfg config.Config, logger *zap.Logger) *probe.Executor {
	ex := &probe.Executor{
		HTTP: probe.NewHTTPStrategy(),
		WS:   probe.NewWSStrategy(),
	}

	x := cfg.XMPP
	st := xmpp.Settings{WSURL: x.WSURL, Host: x.Host, MUCService: x.MUCService}
	admin := xmpp.Credentials{User: x.AdminUser, Password: x.AdminPassword}

	var prov xmpp.AccountProvisioner
	if x.AdminAPIURL != "" {
		prov = xmpp.NewProvisioner(x.AdminAPIURL, x.Host, x.AdminUser, x.AdminPassword)
	}
	ex.RoomEcho = probe.NewRoomEchoStrategy(st, admin, x.AccountSecret,
		xmpp.Credentials{User: x.SenderUser, Password: x.SenderPass},
		xmpp.Credentials{User: x.ReceiverUser, Password: x.ReceiverPass},
		prov, logger)

	p := cfg.Platform
	ex.Journey = journey.NewOrchestrator(
		platform.NewClient(p.APIURL),
		journey.Config{
			Domain:        p.Domain,
			AdminEmail:    p.AdminEmail,
			AdminPassword: p.AdminPassword,
			XMPP:          st,
			XMPPAdmin:     admin,
			ObserverRoom:  x.ObserverRoom,
		},
		xmpp.Dial, logger)

	return ex
}
