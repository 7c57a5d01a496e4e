package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tupyy/docjobs/internal/config"
	"github.com/tupyy/docjobs/internal/services"
	"github.com/tupyy/docjobs/internal/store"
	"github.com/tupyy/docjobs/internal/store/migrations"
	"github.com/tupyy/docjobs/pkg/document"
	"github.com/tupyy/docjobs/pkg/engine"
	"github.com/tupyy/docjobs/pkg/eventloop"
	"github.com/tupyy/docjobs/pkg/scheduler"
)

var (
	okf   = color.New(color.FgGreen, color.Bold).SprintfFunc()
	warnf = color.New(color.FgYellow).SprintfFunc()
	errf  = color.New(color.FgRed).SprintfFunc()
	dimf  = color.New(color.Faint).SprintfFunc()
)

// app is the wiring of one command run: engine, scheduler, its event loop,
// the optional history store and a session on the document.
type app struct {
	cfg     *config.Configuration
	sched   *scheduler.Scheduler
	st      *store.Store
	history *services.HistoryService
	session *services.Session
	stop    context.CancelFunc
}

func newApp(ctx context.Context, v *viper.Viper) (*app, error) {
	cfg := configuration(v)
	zap.S().Named("main").Debugw("configuration", "config", cfg.DebugMap())

	a := &app{cfg: cfg}
	if cfg.History.Enabled {
		if err := a.openHistory(ctx); err != nil {
			return nil, err
		}
	}

	eng := engine.New(
		engine.WithTempDir(cfg.Engine.TempDir),
		engine.WithExportDPI(cfg.Engine.ExportDPI),
	)
	a.sched = scheduler.New(
		scheduler.WithWorkers(cfg.Scheduler.Workers),
		scheduler.WithFactory(eng),
		scheduler.WithTempDir(cfg.Engine.TempDir),
	)

	loopCtx, stop := context.WithCancel(ctx)
	a.stop = stop
	go func() {
		if err := a.sched.Loop().Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, eventloop.ErrClosed) {
			zap.S().Named("main").Warnw("event loop stopped", "error", err)
		}
	}()

	opts := []services.SessionOption{services.WithFontsBatchSize(cfg.Scheduler.FontsBatchSize)}
	if a.history != nil {
		opts = append(opts, services.WithHistory(a.history))
	}
	a.session = services.NewSession(a.sched, opts...)
	return a, nil
}

func (a *app) openHistory(ctx context.Context) error {
	db, err := store.NewDB(a.cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate history: %w", err)
	}
	a.st = store.NewStore(db)
	a.history = services.NewHistoryService(a.st)
	return nil
}

// open loads path into the session.
func (a *app) open(ctx context.Context, path, password string) error {
	uri := document.FileURI(path)
	if err := a.session.Open(ctx, uri, password); err != nil {
		return err
	}
	doc := a.session.Document()
	fmt.Println(dimf("%s: %d pages", path, doc.PageCount()))
	return nil
}

func (a *app) close() {
	if a.session != nil {
		_ = a.session.Close()
	}
	if a.sched != nil {
		a.sched.Close()
		a.sched.Loop().Close()
	}
	if a.stop != nil {
		a.stop()
	}
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			zap.S().Named("main").Warnw("failed to close history", "error", err)
		}
	}
}
