package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"safeconnect/internal/agent/reputation"
	"safeconnect/internal/classify"
	"safeconnect/internal/dataset"
	"safeconnect/internal/metrics"
	"safeconnect/pkg/model"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

var SystemClock Clock = systemClock{}

// ConnectionTable 引擎对 Connection Record 的全部权限：读副本、置位 checked。
type ConnectionTable interface {
	Snapshot() dataset.Connections
	MarkChecked(ips []string) error
}

type Config struct {
	RescanInterval time.Duration
	// RescanFromLastSeen 为 true 时按 last_seen 计算陈旧度（旧版行为），
	// 否则按 last_scanned 计算，从未成功扫描过的条目总是视为陈旧。
	RescanFromLastSeen bool
	// LookupDelay 相邻两次信誉查询的最小间隔。
	LookupDelay time.Duration
	Workers     int

	HistoryPath    string
	ReputationPath string
}

type Deps struct {
	Classifier  classify.Classifier
	Lookup      reputation.Lookuper
	Connections ConnectionTable
	History     dataset.History
	Reputation  dataset.Reputation
	Clock       Clock
	Logger      zerolog.Logger
	Metrics     *metrics.Agent
}

// Engine 持有 reconcile 所需的全部状态；History 与 Reputation 只由它写入。
type Engine struct {
	cfg        Config
	classifier classify.Classifier
	lookup     reputation.Lookuper
	conns      ConnectionTable
	history    dataset.History
	reputation dataset.Reputation
	clock      Clock
	limiter    *rate.Limiter
	logger     zerolog.Logger
	metrics    *metrics.Agent
}

func New(cfg Config, d Deps) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if d.Clock == nil {
		d.Clock = SystemClock
	}
	if d.History == nil {
		d.History = dataset.History{}
	}
	if d.Reputation == nil {
		d.Reputation = dataset.Reputation{}
	}
	limit := rate.Inf
	if cfg.LookupDelay > 0 {
		limit = rate.Every(cfg.LookupDelay)
	}
	return &Engine{
		cfg:        cfg,
		classifier: d.Classifier,
		lookup:     d.Lookup,
		conns:      d.Connections,
		history:    d.History,
		reputation: d.Reputation,
		clock:      d.Clock,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     d.Logger,
		metrics:    d.Metrics,
	}
}

type decision string

const (
	decisionTouch  decision = "touch"
	decisionSkip   decision = "skip"
	decisionRescan decision = "rescan"
	decisionNew    decision = "new"
)

type pending struct {
	ip       string
	decision decision
}

type outcome struct {
	res reputation.Result
	err error
}

// CycleReport 一次 reconcile 的统计，主要用于日志与测试。
type CycleReport struct {
	Connections int
	Touched     int
	Skipped     int
	Rescanned   int
	New         int
	Failed      int
	Aborted     int
}

// RunCycle 执行一次完整的 reconcile 并落盘三个数据集。
// 只有落盘失败才返回错误；信誉查询失败按 UNKNOWN 处理，不会中断周期。
// ctx 取消时尚未完成的查询结果会被丢弃，已有状态照常写盘。
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	now := e.clock.Now()
	conns := e.conns.Snapshot()
	report := CycleReport{Connections: len(conns)}

	ips := make([]string, 0, len(conns))
	for ip := range conns {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var checked []string
	var work []pending
	for _, ip := range ips {
		rec := conns[ip]
		h, known := e.history.Find(ip)

		switch {
		case rec.Checked:
			if known {
				h.LastSeen = model.At(now)
				e.history[ip] = h
			}
			report.Touched++
			e.metrics.Decision(string(decisionTouch))
		case !known:
			work = append(work, pending{ip: ip, decision: decisionNew})
		case e.stale(h, now):
			work = append(work, pending{ip: ip, decision: decisionRescan})
		default:
			h.TimesSeen++
			h.LastSeen = model.At(now)
			e.history[ip] = h
			checked = append(checked, ip)
			report.Skipped++
			e.metrics.Decision(string(decisionSkip))
		}
	}

	results := e.lookupAll(ctx, work)

	for i, p := range work {
		out := results[i]
		if out.err != nil && ctx.Err() != nil {
			report.Aborted++
			continue
		}
		if e.apply(p, out, now) {
			checked = append(checked, p.ip)
		}
		if out.err != nil {
			report.Failed++
		}
		if p.decision == decisionNew {
			report.New++
		} else {
			report.Rescanned++
		}
		e.metrics.Decision(string(p.decision))
	}

	return report, e.persist(checked)
}

func (e *Engine) stale(h model.HistoryEntry, now time.Time) bool {
	ref := h.LastSeen
	if !e.cfg.RescanFromLastSeen {
		if h.LastScanned.IsZero() {
			return true
		}
		ref = h.LastScanned
	}
	return now.Sub(ref.Time) > e.cfg.RescanInterval
}

// lookupAll 并发执行查询（并发度 Workers），所有查询共用一个限速器。
// 每个 IP 在 work 中最多出现一次，因此同一 IP 不会有并发查询。
func (e *Engine) lookupAll(ctx context.Context, work []pending) []outcome {
	results := make([]outcome, len(work))
	if len(work) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, p := range work {
		i, p := i, p
		g.Go(func() error {
			if err := e.limiter.Wait(ctx); err != nil {
				results[i] = outcome{err: err}
				return nil
			}
			res, err := e.lookup.Lookup(ctx, p.ip)
			results[i] = outcome{res: res, err: err}
			e.metrics.Lookup(reputation.Kind(err))
			if err != nil && ctx.Err() == nil {
				e.logger.Warn().Err(err).Str("ip", p.ip).Str("kind", reputation.Kind(err)).
					Msg("信誉查询失败，本周期按 UNKNOWN 处理")
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// apply 把一次查询结果写入 History / Reputation，返回该 IP 是否应置位 checked。
//
// 成功：覆盖缓存、更新 last_scanned；新 IP 置位 checked，重扫的 IP 保持未置位，下一周期再判定。
// 失败：风险记为 UNKNOWN，times_seen 与 last_seen 照常推进，但 last_scanned 不变、
// checked 不置位，下一周期会因陈旧而自动重试。
func (e *Engine) apply(p pending, out outcome, now time.Time) bool {
	h, known := e.history.Find(p.ip)
	if !known {
		h = model.HistoryEntry{FirstSeen: model.At(now)}
	}
	h.TimesSeen++
	h.LastSeen = model.At(now)

	if out.err != nil {
		h.RiskLevel = model.RiskUnknown
		e.history[p.ip] = h
		return false
	}

	e.reputation[p.ip] = out.res.Record(p.ip, now)
	h.RiskLevel = e.classifier.Classify(out.res.Score)
	h.LastScanned = model.At(now)
	e.history[p.ip] = h

	e.logger.Info().
		Str("ip", p.ip).
		Str("decision", string(p.decision)).
		Str("risk", string(h.RiskLevel)).
		Str("country", out.res.CountryCode).
		Msg("完成信誉分类")

	return p.decision == decisionNew
}

func (e *Engine) persist(checked []string) error {
	var errs []error
	if err := dataset.SaveHistory(e.cfg.HistoryPath, e.history); err != nil {
		e.metrics.PersistFailure("history")
		errs = append(errs, fmt.Errorf("写入 history 失败：%w", err))
	}
	if err := dataset.SaveReputation(e.cfg.ReputationPath, e.reputation); err != nil {
		e.metrics.PersistFailure("reputation")
		errs = append(errs, fmt.Errorf("写入 reputation 失败：%w", err))
	}
	if err := e.conns.MarkChecked(checked); err != nil {
		e.metrics.PersistFailure("connections")
		errs = append(errs, fmt.Errorf("写入 connections 失败：%w", err))
	}
	e.metrics.Tracked("history", len(e.history))
	e.metrics.Tracked("reputation", len(e.reputation))
	return errors.Join(errs...)
}

// Run 立即执行一次，之后每收到一次 tick 执行一次；ctx 取消后在当前周期写盘完成后返回。
func (e *Engine) Run(ctx context.Context, ticks <-chan time.Time) error {
	e.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			e.runOnce(ctx)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) {
	start := time.Now()
	report, err := e.RunCycle(ctx)
	elapsed := time.Since(start)
	e.metrics.ObserveCycle(elapsed)

	if err != nil {
		e.logger.Error().Err(err).Msg("数据集落盘失败，下个周期重试")
	}
	e.logger.Info().
		Int("connections", report.Connections).
		Int("new", report.New).
		Int("rescanned", report.Rescanned).
		Int("skipped", report.Skipped).
		Int("touched", report.Touched).
		Int("failed", report.Failed).
		Int("aborted", report.Aborted).
		Dur("elapsed", elapsed).
		Msg("reconcile 周期结束")
}

// History 返回当前 History 的副本。
func (e *Engine) History() dataset.History {
	return e.history.Clone()
}

func (e *Engine) Reputation() dataset.Reputation {
	return e.reputation.Clone()
}
