package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sawpanic/cryptodash/internal/cachefabric"
	"github.com/sawpanic/cryptodash/internal/eventlog"
	"github.com/sawpanic/cryptodash/internal/marketdata"
)

// Job binds one logical datum's Fallback Chain to its cache strategy and to
// the function that writes a successful result into the Record.
type Job struct {
	Name         string
	CacheKey     string
	Strategy     cachefabric.Strategy
	Chain        *marketdata.Chain
	Apply        func(*Record, marketdata.CanonicalResult)
	ApplyDefault func(*Record)
}

// Aggregator is the Aggregator (C8): it fans every configured Job out
// concurrently under one deadline, caches each job's result through the
// Cache Manager (C7), emits an event per successfully-fetched job, and
// folds defaults + provenance into the final Record on partial failure.
type Aggregator struct {
	jobs            []Job
	manager         *cachefabric.Manager
	log             eventlog.Log
	perChainDeadline time.Duration
}

func NewAggregator(jobs []Job, manager *cachefabric.Manager, log eventlog.Log, perChainDeadline time.Duration) *Aggregator {
	return &Aggregator{jobs: jobs, manager: manager, log: log, perChainDeadline: perChainDeadline}
}

type jobOutcome struct {
	job    Job
	result marketdata.CanonicalResult
	err    error
}

// FetchDashboard runs every job concurrently, each bounded by
// perChainDeadline, and assembles a Record. partial_failure is set true
// whenever at least one job fell back to its documented default.
func (a *Aggregator) FetchDashboard(ctx context.Context) (Record, error) {
	return a.fetchDashboard(ctx, false)
}

// FetchDashboardForceRefresh bypasses the Cache Manager's L1/L2 reads for
// every job (spec.md §8's `force_realtime_refresh=true`), forcing every
// chain to run, while still writing fresh results back into both tiers.
func (a *Aggregator) FetchDashboardForceRefresh(ctx context.Context) (Record, error) {
	return a.fetchDashboard(ctx, true)
}

func (a *Aggregator) fetchDashboard(ctx context.Context, forceRefresh bool) (Record, error) {
	outcomes := make([]jobOutcome, len(a.jobs))

	var wg sync.WaitGroup
	for i, job := range a.jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			result, err := a.runJob(ctx, job, forceRefresh)
			outcomes[i] = jobOutcome{job: job, result: result, err: err}
		}(i, job)
	}
	wg.Wait()

	record := Record{
		GeneratedAt:  time.Now(),
		MarketTotals: map[string]float64{},
		DataSources:  map[string]string{},
	}

	for _, o := range outcomes {
		if o.err != nil {
			a.emitFailure(ctx, o.job.Name, o.err)
			o.job.ApplyDefault(&record)
			record.PartialFailure = true
			record.DataSources[o.job.Name] = "default"
			continue
		}
		o.job.Apply(&record, o.result)
		record.DataSources[o.job.Name] = o.result.Source
		a.emit(ctx, o.job.Name, o.result)
	}

	return record, nil
}

func (a *Aggregator) runJob(ctx context.Context, job Job, forceRefresh bool) (marketdata.CanonicalResult, error) {
	compute := func(ctx context.Context) ([]byte, error) {
		result, err := job.Chain.FetchWithDeadline(ctx, a.perChainDeadline)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}

	var raw []byte
	var err error
	if forceRefresh {
		raw, err = a.manager.GetOrComputeForce(ctx, job.CacheKey, job.Strategy, compute)
	} else {
		raw, err = a.manager.GetOrCompute(ctx, job.CacheKey, job.Strategy, compute)
	}
	if err != nil {
		return marketdata.CanonicalResult{}, err
	}

	var result marketdata.CanonicalResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return marketdata.CanonicalResult{}, err
	}
	return result, nil
}

func (a *Aggregator) emit(ctx context.Context, jobName string, result marketdata.CanonicalResult) {
	data := make(map[string]any, len(result.Fields))
	for k, v := range result.Fields {
		data[k] = v
	}
	_, _ = a.log.Append(ctx, jobName, data, map[string]string{"source": result.Source, "status": "success"})
}

// emitFailure records a failed job attempt (chain exhaustion or deadline)
// so the event log reflects both failures and successes per spec.md §8's
// scenario S5, not just successful source tags.
func (a *Aggregator) emitFailure(ctx context.Context, jobName string, err error) {
	data := map[string]any{"error": err.Error()}
	_, _ = a.log.Append(ctx, jobName, data, map[string]string{"source": "none", "status": "failed"})
}
