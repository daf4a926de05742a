package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"safeconnect/internal/agent/engine"
	"safeconnect/internal/agent/reputation"
	"safeconnect/internal/agent/snapshot"
	"safeconnect/internal/config"
	"safeconnect/internal/dataset"
	"safeconnect/internal/metrics"
)

// Run 启动快照器与 reconcile 引擎，直到 ctx 取消。
// 取消时正在进行的周期会先完成写盘再返回。
func Run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	classifier, err := config.Thresholds(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewAgent(reg)

	table, err := dataset.OpenLiveTable(cfg.Data.ConnectionsFile, component(logger, "dataset"))
	if err != nil {
		return err
	}
	history, err := dataset.LoadHistory(cfg.Data.HistoryFile, component(logger, "dataset"))
	if err != nil {
		return err
	}
	cache, err := dataset.LoadReputation(cfg.Data.ReputationFile, component(logger, "dataset"))
	if err != nil {
		return err
	}

	src, err := snapshot.Open(ctx, cfg.Snapshot, component(logger, "snapshot"))
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭快照来源失败")
		}
	}()

	snapper := snapshot.New(src, table, component(logger, "snapshot"), m)
	eng := engine.New(engine.Config{
		RescanInterval:     cfg.Engine.RescanInterval,
		RescanFromLastSeen: cfg.Engine.RescanBasis == config.RescanFromLastSeen,
		LookupDelay:        cfg.Engine.LookupDelay,
		Workers:            cfg.Engine.Workers,
		HistoryPath:        cfg.Data.HistoryFile,
		ReputationPath:     cfg.Data.ReputationFile,
	}, engine.Deps{
		Classifier:  classifier,
		Lookup:      newProvider(cfg.Reputation, component(logger, "reputation")),
		Connections: table,
		History:     history,
		Reputation:  cache,
		Logger:      component(logger, "engine"),
		Metrics:     m,
	})

	logger.Info().
		Str("source", cfg.Snapshot.Source).
		Dur("snapshot_interval", cfg.Snapshot.Interval).
		Dur("cycle_interval", cfg.Engine.CycleInterval).
		Dur("rescan_interval", cfg.Engine.RescanInterval).
		Int("history", len(history)).
		Msg("agent 启动")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t := time.NewTicker(cfg.Snapshot.Interval)
		defer t.Stop()
		return snapper.Run(gctx, t.C)
	})
	g.Go(func() error {
		// 先等第一次快照，避免用上一次运行留下的连接表做分类。
		select {
		case <-snapper.Ready():
		case <-gctx.Done():
			return nil
		}
		t := time.NewTicker(cfg.Engine.CycleInterval)
		defer t.Stop()
		return eng.Run(gctx, t.C)
	})
	if cfg.Agent.MetricsListen != "" {
		srv := &http.Server{
			Addr:              cfg.Agent.MetricsListen,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("listen", srv.Addr).Msg("agent metrics 监听")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func newProvider(cfg config.ReputationConfig, logger zerolog.Logger) *reputation.Provider {
	abuse := reputation.NewAbuseIPDB(cfg.AbuseIPDB.URL, cfg.AbuseIPDB.APIKey, cfg.AbuseIPDB.MaxAgeInDays, cfg.Timeout)

	var vt *reputation.VirusTotal
	if cfg.VirusTotal.APIKey != "" {
		vt = reputation.NewVirusTotal(cfg.VirusTotal.URL, cfg.VirusTotal.APIKey, cfg.Timeout)
	}

	var rdns *reputation.ReverseDNS
	if !cfg.SkipReverseDNS {
		r, err := reputation.NewReverseDNS(cfg.DNSServer, cfg.Timeout)
		if err != nil {
			logger.Warn().Err(err).Msg("反向 DNS 不可用，hostname 留空")
		} else {
			rdns = r
		}
	}
	return reputation.NewProvider(abuse, vt, rdns, logger)
}

func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
