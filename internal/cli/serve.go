package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"alertrelay/internal/kv"
	"alertrelay/internal/observability"
	"alertrelay/internal/runtime/supervisor"
	logx "alertrelay/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Drain the queue on a schedule and reload policy on change",
		Long: `Serve runs the drainer on drain.schedule (cron syntax or @every), never
overlapping runs, watches the site documents and swaps the routing policy
when they change, exposes Prometheus metrics on metrics.listen and reports
readiness to systemd when started as a notify service.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	s := a.settings
	log := a.log.With(logx.String("comp", "serve"))

	st := buildStack(s, a.log, "")
	defer st.close()
	st.policy.Reload(ctx)

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	opts := a.resolveDrainOptions(&drainOptions{max: s.Drain.MaxRecords, maxAttempts: -1, alertThreshold: -1})
	c := cron.New(
		cron.WithLogger(cronLogger{log: a.log.With(logx.String("comp", "cron"))}),
		cron.WithChain(cron.Recover(cronLogger{log: log}), cron.SkipIfStillRunning(cronLogger{log: log})),
	)
	if _, err := c.AddFunc(s.Drain.Schedule, func() {
		res := st.drainer.Drain(sup.Context(), opts)
		if res.Failed > 0 {
			log.Warn("drain left failed records", logx.Int("failed", res.Failed), logx.Int("remaining", res.Remaining))
		}
	}); err != nil {
		return fmt.Errorf("drain.schedule %q: %w", s.Drain.Schedule, err)
	}

	sup.Go("drain.cron", func(ctx context.Context) error {
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	})

	if paths := st.docPaths(); len(paths) > 0 {
		sup.GoRestart("policy.watch", func(ctx context.Context) error {
			return kv.Watch(ctx, log, func() { st.reload(ctx, log) }, paths...)
		}, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	if s.Metrics.Listen != "" {
		ocfg := observability.Config{
			Addr:          s.Metrics.Listen,
			Pprof:         s.Metrics.Pprof,
			Token:         s.Metrics.Token,
			AllowInsecure: s.Metrics.AllowInsecure,
		}
		if err := ocfg.Check(); err != nil {
			return err
		}
		srv := &http.Server{Addr: s.Metrics.Listen, Handler: observability.NewMux(ocfg), ReadHeaderTimeout: 5 * time.Second}
		sup.Go("metrics.http", func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
			log.Info("metrics listening", logx.String("addr", s.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		sup.Go("systemd.watchdog", func(ctx context.Context) error {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		log.Debug("systemd notified: ready")
	}
	log.Info("serving",
		logx.String("schedule", s.Drain.Schedule),
		logx.String("queue_dir", st.queue.Dir()),
		logx.Strings("documents", st.docPaths()),
	)

	<-sup.Context().Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := sup.Stop(stopCtx)
	for _, l := range sup.Snapshot() {
		if l.Restarts > 0 || l.Panics > 0 || l.LastErr != "" {
			log.Info("loop summary", logx.String("name", l.Name), logx.Int("restarts", l.Restarts), logx.Int("panics", l.Panics), logx.String("last_err", l.LastErr))
		}
	}
	return err
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(pairs(keysAndValues), logx.Err(err))...)
}

func pairs(keysAndValues []any) []logx.Field {
	out := make([]logx.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}
