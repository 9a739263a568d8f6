// Package pipeline implements the Retrieval Pipeline (C6): normalize,
// classify, plan, fan out across adapters, hybrid-rank, cache, and emit
// metrics for every incoming query. Stage shape follows the teacher's
// orchestration style in internal/business/publishing (sequential
// stages, each instrumented, each honoring context cancellation), with
// the fan-out/rank stages new to this domain.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/breaker"
	"github.com/personalpipeline/personal-pipeline/pkg/cache"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

// Intent is the deterministic operational classification of a query.
type Intent string

const (
	IntentEmergencyResponse Intent = "emergency_response"
	IntentFindRunbook       Intent = "find_runbook"
	IntentEscalationPath    Intent = "escalation_path"
	IntentGetProcedure      Intent = "get_procedure"
	IntentTroubleshoot      Intent = "troubleshoot"
	IntentStatusCheck       Intent = "status_check"
	IntentConfiguration     Intent = "configuration"
	IntentGeneralSearch     Intent = "general_search"
)

// intentVocabulary maps lexical markers to an intent, checked in order.
var intentVocabulary = []struct {
	intent   Intent
	keywords []string
}{
	{IntentEmergencyResponse, []string{"outage", "down", "critical", "sev1", "p1"}},
	{IntentEscalationPath, []string{"escalate", "escalation", "page", "on-call"}},
	{IntentGetProcedure, []string{"procedure", "steps", "how to"}},
	{IntentFindRunbook, []string{"runbook", "playbook"}},
	{IntentTroubleshoot, []string{"troubleshoot", "debug", "diagnose", "why is"}},
	{IntentStatusCheck, []string{"status", "health", "is up"}},
	{IntentConfiguration, []string{"configure", "config", "setting"}},
}

// Classification is the result of stage 2 (classify intent).
type Classification struct {
	Intent          Intent
	Confidence      float64
	ExpandedKeywords []string
}

// Classify is a deterministic, rule-based operational intent classifier.
func Classify(query string) Classification {
	lower := strings.ToLower(query)
	for _, entry := range intentVocabulary {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return Classification{Intent: entry.intent, Confidence: 0.8, ExpandedKeywords: entry.keywords}
			}
		}
	}
	return Classification{Intent: IntentGeneralSearch, Confidence: 0.3}
}

// deadlineFor returns the per-query deadline budget for an intent, per
// the critical/standard/bulk tiers.
func deadlineFor(intent Intent) time.Duration {
	switch intent {
	case IntentEmergencyResponse, IntentEscalationPath:
		return 150 * time.Millisecond
	case IntentGeneralSearch:
		return 1000 * time.Millisecond
	default:
		return 300 * time.Millisecond
	}
}

// Weights are the hybrid ranking coefficients from spec §4.6.
type Weights struct {
	Semantic float64
	Lexical  float64
	Metadata float64
}

func DefaultWeights() Weights { return Weights{Semantic: 0.6, Lexical: 0.3, Metadata: 0.1} }

// Options adjusts one Query call's behavior.
type Options struct {
	Kinds          []string // restrict adapter selection to these kinds, if non-empty
	AllowDegraded  bool     // include adapters whose breaker is open
	MinConfidence  float64
	Limit          int
	Weights        Weights
}

// Result is one ranked search hit returned to the tool layer.
type Result struct {
	source.SearchResult
	FinalScore float64
}

// SourceStatus summarizes one adapter's outcome for a single Query call,
// so callers that need to explain partial results (search_knowledge_base,
// search_runbooks) can show e.g. "source A: unavailable" per spec.md §7/§8.
type SourceStatus struct {
	Name    string
	Status  string // "ok", or a perrors.Code such as "UNAVAILABLE"
	Message string
}

// sourceOutcome is fanOut's internal per-adapter result, before it's
// shaped into the exported SourceStatus.
type sourceOutcome struct {
	name string
	err  error
}

func statusesFromOutcomes(outcomes []sourceOutcome) []SourceStatus {
	statuses := make([]SourceStatus, 0, len(outcomes))
	for _, o := range outcomes {
		st := SourceStatus{Name: o.name, Status: "ok"}
		if o.err != nil {
			st.Status = string(perrors.Classify(o.err).Code)
			st.Message = o.err.Error()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// unavailableErr returns a perrors.Unavailable summarizing outcomes when
// at least one adapter failed with a transient/circuit error, so a query
// that found zero results can be told apart from one where every adapter
// genuinely had nothing to offer (spec.md §7/§8's zero-successful-
// adapters boundary). Returns nil when no outcome warrants it.
func unavailableErr(outcomes []sourceOutcome) error {
	var blocking []string
	for _, o := range outcomes {
		if o.err == nil {
			continue
		}
		switch perrors.Classify(o.err).Code {
		case perrors.CodeUnavailable, perrors.CodeTimeout, perrors.CodeCircuitOpen:
			blocking = append(blocking, o.name+": "+o.err.Error())
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	return perrors.Unavailable("no adapter returned results: " + strings.Join(blocking, "; "))
}

// Metrics is the set of per-stage/per-adapter instrumentation the
// pipeline emits; a nil Metrics disables instrumentation.
type Metrics interface {
	ObserveStage(stage string, d time.Duration)
	ObserveAdapter(name string, d time.Duration, err error)
	ObserveCache(hit bool)
}

// AdapterPriority resolves an adapter's configured priority and kind,
// used by Plan to filter and break ranking ties. Lower priority wins
// ties. Implementations back this with the sources config.
type AdapterPriority func(name string) (priority int, kind string, ok bool)

// SuccessRateSource resolves the historical resolution success rate for
// a runbook/document ID, backed by internal/feedbackstore.Store. A
// false ok means no feedback has been recorded yet for that ID.
type SuccessRateSource func(documentID string) (rate float64, ok bool)

// Pipeline wires the registry and cache manager together into the
// seven-stage retrieval flow.
type Pipeline struct {
	registry    *registry.Registry
	cache       *cache.Manager
	priority    AdapterPriority
	successRate SuccessRateSource
	logger      *slog.Logger
	metrics     Metrics
}

func New(reg *registry.Registry, mgr *cache.Manager, priority AdapterPriority, logger *slog.Logger, metrics Metrics) *Pipeline {
	return &Pipeline{registry: reg, cache: mgr, priority: priority, logger: logger, metrics: metrics}
}

// WithSuccessRateSource wires a historical-success-rate lookup into the
// pipeline's ranking metadata score. Optional: unset leaves that
// component neutral (0.5) for every result.
func (p *Pipeline) WithSuccessRateSource(src SuccessRateSource) {
	p.successRate = src
}

// Query runs the full seven-stage pipeline for one incoming query. The
// returned SourceStatus slice reports every adapter's outcome, even when
// the query as a whole succeeds with results from only some of them.
func (p *Pipeline) Query(ctx context.Context, rawQuery string, filter source.Filter, opts Options) ([]Result, []SourceStatus, error) {
	stage := func(name string, fn func()) {
		start := time.Now()
		fn()
		if p.metrics != nil {
			p.metrics.ObserveStage(name, time.Since(start))
		}
	}

	queryStart := time.Now()

	// Stage 1: normalize.
	var normalized string
	stage("normalize", func() { normalized = normalize(rawQuery) })
	if normalized == "" {
		return nil, nil, nil
	}

	// Stage 2: classify intent.
	var classification Classification
	stage("classify", func() { classification = Classify(normalized) })

	// Stage 3: plan.
	var names []string
	var deadline time.Duration
	stage("plan", func() {
		names = p.plan(opts.Kinds, opts.AllowDegraded)
		deadline = deadlineFor(classification.Intent)
	})
	if len(names) == 0 {
		return nil, nil, nil
	}

	weights := opts.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}

	planCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var ranked []Result
	var statuses []SourceStatus
	ranLoad := false

	// load performs stages 4-5 (fan out, rank); it's the Loader passed
	// to GetOrLoad so concurrent identical cold-cache queries coalesce
	// into a single fan-out (spec.md §4.2 stampede avoidance) instead of
	// each one separately hitting every adapter.
	load := func(loadCtx context.Context) ([]byte, error) {
		ranLoad = true

		var raw []source.SearchResult
		var outcomes []sourceOutcome
		stage("fan_out", func() { raw, outcomes = p.fanOut(loadCtx, names, normalized, filter) })
		statuses = statusesFromOutcomes(outcomes)

		var r []Result
		stage("rank", func() { r = rank(raw, weights, opts.MinConfidence, opts.Limit, p.priority, p.successRate) })
		if len(r) == 0 {
			if err := unavailableErr(outcomes); err != nil {
				return nil, err
			}
		}
		ranked = r
		return encodePayload(r, statuses), nil
	}

	// Stage 6: cache (stampede-safe via GetOrLoad, keyed on query+filter+intent).
	if p.cache != nil {
		cacheKey := cache.Key("search:"+string(classification.Intent), struct {
			Query  string
			Filter source.Filter
		}{normalized, filter})

		data, err := p.cache.GetOrLoad(planCtx, cacheKey, cache.ContentSearchResult, load)
		if p.metrics != nil {
			p.metrics.ObserveCache(!ranLoad)
		}
		if err != nil {
			return nil, statuses, err
		}
		if !ranLoad {
			ranked, statuses = decodePayload(data)
		}
	} else if _, err := load(planCtx); err != nil {
		return nil, statuses, err
	}

	elapsed := time.Since(queryStart).Milliseconds()
	for i := range ranked {
		ranked[i].Document.RetrievalTimeMs = elapsed
	}

	return ranked, statuses, nil
}

func normalize(q string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(q) {
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (p *Pipeline) plan(kinds []string, allowDegraded bool) []string {
	var selected []string
	for _, name := range p.registry.Names() {
		if len(kinds) > 0 && p.priority != nil {
			_, kind, ok := p.priority(name)
			if ok && !contains(kinds, kind) {
				continue
			}
		}
		if !allowDegraded {
			if st, ok := p.registry.BreakerState(name); ok && st == breaker.StateOpen {
				continue
			}
		}
		selected = append(selected, name)
	}
	const absoluteCap = 16
	if len(selected) > absoluteCap {
		selected = selected[:absoluteCap]
	}
	return selected
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// fanOut calls Search on every selected adapter concurrently, collecting
// whatever results arrive before ctx is done along with each adapter's
// outcome, so callers can tell "no results" apart from "every adapter
// failed".
func (p *Pipeline) fanOut(ctx context.Context, names []string, query string, filter source.Filter) ([]source.SearchResult, []sourceOutcome) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  []source.SearchResult
		outcomes []sourceOutcome
	)

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			start := time.Now()
			res, err := p.registry.Search(ctx, name, query, filter)
			if err == nil && ctx.Err() != nil {
				err = ctx.Err() // arrived after the deadline: discard
			}
			if p.metrics != nil {
				p.metrics.ObserveAdapter(name, time.Since(start), err)
			}
			mu.Lock()
			outcomes = append(outcomes, sourceOutcome{name: name, err: err})
			if err == nil {
				results = append(results, res...)
			}
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results, outcomes
}

// WarmQueriesFor builds cache.WarmQuery values that pre-run the fan-out
// and rank stages for each literal query in queries, keyed exactly the
// way Query's own cache lookup would key an identical call. A cold-start
// warm cycle therefore populates the very entry a subsequent identical
// search_runbooks/search_knowledge_base call hits (spec.md §4.2's
// "critical-runbook seed list supplied by the tool layer").
func (p *Pipeline) WarmQueriesFor(queries []string, filter source.Filter) []cache.WarmQuery {
	warm := make([]cache.WarmQuery, 0, len(queries))
	for _, q := range queries {
		normalized := normalize(q)
		if normalized == "" {
			continue
		}
		classification := Classify(normalized)
		key := cache.Key("search:"+string(classification.Intent), struct {
			Query  string
			Filter source.Filter
		}{normalized, filter})

		warm = append(warm, cache.WarmQuery{
			Key:         key,
			ContentType: cache.ContentSearchResult,
			Load: func(ctx context.Context) ([]byte, error) {
				names := p.plan(nil, false)
				if len(names) == 0 {
					return nil, perrors.Unavailable("no adapters available to warm cache")
				}
				raw, outcomes := p.fanOut(ctx, names, normalized, filter)
				statuses := statusesFromOutcomes(outcomes)
				ranked := rank(raw, DefaultWeights(), 0, 0, p.priority, p.successRate)
				if len(ranked) == 0 {
					if err := unavailableErr(outcomes); err != nil {
						return nil, err
					}
				}
				return encodePayload(ranked, statuses), nil
			},
		})
	}
	return warm
}

func rank(results []source.SearchResult, w Weights, minConfidence float64, limit int, priority AdapterPriority, successRate SuccessRateSource) []Result {
	ranked := make([]Result, 0, len(results))
	now := time.Now()
	for _, r := range results {
		lexical := r.RelevanceScore

		priorityInverse := 1.0
		kind := ""
		if priority != nil {
			if p, k, ok := priority(r.Document.SourceName); ok {
				priorityInverse = 1.0 / float64(1+p)
				kind = k
			}
		}

		rate := 0.5 // neutral prior when no feedback history exists yet
		if successRate != nil {
			if v, ok := successRate(r.Document.ID); ok {
				rate = v
			}
		}

		metadataScore := 0.6*recencyScore(r.Document.UpdatedAt, now) + 0.2*priorityInverse + 0.2*rate
		semantic := 0.0 // no embedding layer wired in this build
		final := w.Semantic*semantic + w.Lexical*lexical + w.Metadata*metadataScore
		if final < minConfidence {
			continue
		}

		// Document-level attributes (spec.md §3): Confidence is the
		// adapter's own reported relevance, distinct from FinalScore's
		// cross-adapter blend; RetrievalTimeMs is stamped once the
		// overall query completes, back in Query.
		r.Document.Confidence = r.RelevanceScore
		r.Document.Category = kind
		r.Document.Excerpt = excerpt(r.Document.Content, 240)
		if r.MatchType != "" {
			r.Document.MatchReasons = []string{r.MatchType}
		}

		ranked = append(ranked, Result{SearchResult: r, FinalScore: final})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].FinalScore != ranked[j].FinalScore {
			return ranked[i].FinalScore > ranked[j].FinalScore
		}
		pi, pj := 0, 0
		if priority != nil {
			if v, _, ok := priority(ranked[i].Document.SourceName); ok {
				pi = v
			}
			if v, _, ok := priority(ranked[j].Document.SourceName); ok {
				pj = v
			}
		}
		if pi != pj {
			return pi < pj
		}
		if !ranked[i].Document.UpdatedAt.Equal(ranked[j].Document.UpdatedAt) {
			return ranked[i].Document.UpdatedAt.After(ranked[j].Document.UpdatedAt)
		}
		return ranked[i].Document.ID < ranked[j].Document.ID
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// excerpt returns a bounded preview of content for callers that don't
// need the full body.
func excerpt(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "…"
}

func recencyScore(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	age := now.Sub(updatedAt)
	halfLife := 30 * 24 * time.Hour
	return math.Exp(-float64(age) / float64(halfLife))
}
