// Package tools implements the Tool Layer (C7): the seven stable-named
// operations the orchestrator exposes, each validating its input via
// go-playground/validator (the teacher's validation library of choice),
// invoking the pipeline or registry, and shaping the response. Grounded
// on the teacher's internal/business/publishing service layer's
// validate-then-call-then-shape method structure.
package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/pipeline"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

var validate = validator.New()

// FeedbackRecord is one stored resolution-feedback entry.
type FeedbackRecord struct {
	ID                   string
	IncidentID           string
	RunbookUsed          string
	// SourceName is the adapter that owns RunbookUsed, resolved at
	// record time so list_sources(include_stats=true) can report
	// per-adapter success rates without re-deriving ownership later.
	SourceName           string
	ResolutionTimeMinutes int
	WasSuccessful        bool
	Feedback             string
	RootCause            string
	ResolutionSummary    string
	CreatedAt            time.Time
}

// FeedbackStore persists resolution feedback and is the sole path by
// which adapter success rates may be updated.
type FeedbackStore interface {
	Record(ctx context.Context, rec FeedbackRecord) error
}

// FeedbackStats is implemented by FeedbackStore backends that can report
// per-source resolution outcomes; list_sources(include_stats=true) uses
// it when present. A store without stats support simply yields no
// per-adapter numbers rather than failing the call.
type FeedbackStats interface {
	SourceStats(ctx context.Context, sourceName string) (successRate float64, total int, ok bool)
}

// Service bundles the registry and pipeline behind the seven tool
// operations.
type Service struct {
	registry *registry.Registry
	pipeline *pipeline.Pipeline
	feedback FeedbackStore
	logger   *slog.Logger
}

func New(reg *registry.Registry, pl *pipeline.Pipeline, feedback FeedbackStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: reg, pipeline: pl, feedback: feedback, logger: logger}
}

// --- search_runbooks ---

type SearchRunbooksInput struct {
	AlertType       string   `validate:"required"`
	Severity        string   `validate:"required,oneof=low medium high critical"`
	AffectedSystems []string
	Context         map[string]any
	Limit           int
}

type SearchRunbooksOutput struct {
	Runbooks        []source.Runbook
	TotalFound      int
	RetrievalTimeMs int64
	Sources         []pipeline.SourceStatus
}

func (s *Service) SearchRunbooks(ctx context.Context, in SearchRunbooksInput) (*SearchRunbooksOutput, error) {
	if in.Limit <= 0 {
		in.Limit = 5
	}
	if err := validate.Struct(in); err != nil {
		return nil, perrors.Validation(err.Error())
	}

	start := time.Now()
	query := in.AlertType
	filter := source.Filter{Severity: in.Severity, MaxResults: in.Limit}

	results, statuses, err := s.pipeline.Query(ctx, query, filter, pipeline.Options{Limit: in.Limit})
	if err != nil {
		return nil, err
	}

	runbooks := make([]source.Runbook, 0, len(results))
	for _, r := range results {
		runbooks = append(runbooks, source.Runbook{Document: r.Document, Severity: in.Severity})
	}

	return &SearchRunbooksOutput{
		Runbooks: runbooks, TotalFound: len(runbooks), RetrievalTimeMs: time.Since(start).Milliseconds(),
		Sources: statuses,
	}, nil
}

// --- get_decision_tree ---

type GetDecisionTreeInput struct {
	Scenario string `validate:"required"`
	Context  map[string]any
	MaxDepth int
}

type GetDecisionTreeOutput struct {
	DecisionTree []source.DecisionNode
	Confidence   float64
	Source       string
}

func (s *Service) GetDecisionTree(ctx context.Context, in GetDecisionTreeInput) (*GetDecisionTreeOutput, error) {
	if in.MaxDepth <= 0 {
		in.MaxDepth = 5
	}
	if err := validate.Struct(in); err != nil {
		return nil, perrors.Validation(err.Error())
	}

	results, _, err := s.pipeline.Query(ctx, in.Scenario, source.Filter{MaxResults: 1}, pipeline.Options{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, perrors.NotFound("no matching runbook found for scenario")
	}

	doc, rbErr := s.registry.Get(ctx, results[0].Document.SourceName, results[0].Document.ID)
	if rbErr != nil {
		return nil, rbErr
	}

	tree := decisionTreeFromContent(doc.Content, in.MaxDepth)
	return &GetDecisionTreeOutput{DecisionTree: tree, Confidence: results[0].FinalScore, Source: doc.SourceName}, nil
}

func decisionTreeFromContent(content string, maxDepth int) []source.DecisionNode {
	// Without a structured runbook schema in the source document, a
	// single root node summarizing the content is the best a generic
	// adapter can offer; adapters that serve structured runbooks
	// populate DecisionTree on the Runbook itself instead.
	if maxDepth <= 0 {
		return nil
	}
	return []source.DecisionNode{{ID: "root", Condition: "default", Action: content}}
}

// --- get_procedure ---

type GetProcedureInput struct {
	ProcedureID         string `validate:"required"`
	Context             map[string]any
	IncludePrerequisites bool
}

type GetProcedureOutput struct {
	Procedure  source.Procedure
	Confidence float64
}

func (s *Service) GetProcedure(ctx context.Context, in GetProcedureInput) (*GetProcedureOutput, error) {
	if err := validate.Struct(in); err != nil {
		return nil, perrors.Validation(err.Error())
	}

	for _, name := range s.registry.Names() {
		doc, err := s.registry.Get(ctx, name, in.ProcedureID)
		if err != nil {
			continue
		}
		return &GetProcedureOutput{
			Procedure:  source.Procedure{ID: in.ProcedureID, Name: doc.Title, Steps: []string{doc.Content}},
			Confidence: 1,
		}, nil
	}
	return nil, perrors.NotFound("procedure " + in.ProcedureID + " not found")
}

// --- get_escalation_path ---

type GetEscalationPathInput struct {
	IncidentType          string `validate:"required"`
	Severity              string `validate:"required,oneof=low medium high critical"`
	BusinessImpact        string
	TimeSinceStartMinutes int
}

type GetEscalationPathOutput struct {
	Levels                   []source.EscalationStep
	BusinessImpactAssessment string
	CommunicationChannels    []string
}

func (s *Service) GetEscalationPath(ctx context.Context, in GetEscalationPathInput) (*GetEscalationPathOutput, error) {
	if err := validate.Struct(in); err != nil {
		return nil, perrors.Validation(err.Error())
	}

	levels := defaultEscalationLevels(in.Severity)
	assessment := "business impact not assessed"
	if in.BusinessImpact != "" {
		assessment = in.BusinessImpact
	}
	channels := []string{"slack", "pagerduty"}
	if in.Severity == "critical" {
		channels = append(channels, "phone_bridge")
	}

	return &GetEscalationPathOutput{Levels: levels, BusinessImpactAssessment: assessment, CommunicationChannels: channels}, nil
}

func defaultEscalationLevels(severity string) []source.EscalationStep {
	switch severity {
	case "critical":
		return []source.EscalationStep{
			{Level: 1, Target: "on-call engineer", Trigger: "immediate"},
			{Level: 2, Target: "incident commander", Trigger: "5m"},
			{Level: 3, Target: "engineering director", Trigger: "15m"},
		}
	case "high":
		return []source.EscalationStep{
			{Level: 1, Target: "on-call engineer", Trigger: "immediate"},
			{Level: 2, Target: "team lead", Trigger: "15m"},
		}
	default:
		return []source.EscalationStep{{Level: 1, Target: "on-call engineer", Trigger: "immediate"}}
	}
}

// --- search_knowledge_base ---

type SearchKnowledgeBaseInput struct {
	Query          string `validate:"required"`
	Sources        []string
	Categories     []string
	Limit          int
	IncludeContent bool
}

type SearchKnowledgeBaseOutput struct {
	Results     []pipeline.Result
	Total       int
	QueryTimeMs int64
	// Sources summarizes every adapter consulted for this query (e.g.
	// one tripped breaker reporting "unavailable"), even when the query
	// as a whole succeeded using only the remaining healthy adapters.
	Sources []pipeline.SourceStatus
}

func (s *Service) SearchKnowledgeBase(ctx context.Context, in SearchKnowledgeBaseInput) (*SearchKnowledgeBaseOutput, error) {
	if in.Limit <= 0 {
		in.Limit = 10
	}
	if err := validate.Struct(in); err != nil {
		return nil, perrors.Validation(err.Error())
	}

	start := time.Now()
	results, statuses, err := s.pipeline.Query(ctx, in.Query, source.Filter{MaxResults: in.Limit}, pipeline.Options{
		Kinds: in.Categories, Limit: in.Limit,
	})
	if err != nil {
		return nil, err
	}

	if !in.IncludeContent {
		for i := range results {
			results[i].Document.Content = ""
		}
	}

	return &SearchKnowledgeBaseOutput{
		Results: results, Total: len(results), QueryTimeMs: time.Since(start).Milliseconds(),
		Sources: statuses,
	}, nil
}

// --- list_sources ---

type ListSourcesInput struct {
	IncludeHealth bool
	IncludeStats  bool
	Kind          string
}

// SourceStats summarizes an adapter's historical resolution outcomes as
// recorded through record_resolution_feedback.
type SourceStats struct {
	SuccessRate   float64
	FeedbackCount int
}

type SourceSummary struct {
	source.Metadata
	Health *source.HealthCheck
	Stats  *SourceStats
}

type ListSourcesOutput struct {
	Sources []SourceSummary
	Total   int
	Healthy int
}

func (s *Service) ListSources(ctx context.Context, in ListSourcesInput) (*ListSourcesOutput, error) {
	meta := s.registry.Metadata(ctx)
	var health []source.HealthCheck
	if in.IncludeHealth {
		health = s.registry.Health(ctx)
	}
	healthByName := map[string]source.HealthCheck{}
	for _, h := range health {
		healthByName[h.SourceName] = h
	}

	statsSrc, _ := s.feedback.(FeedbackStats)

	summaries := make([]SourceSummary, 0, len(meta))
	healthyCount := 0
	for _, m := range meta {
		if in.Kind != "" && m.Type != in.Kind {
			continue
		}
		summary := SourceSummary{Metadata: m}
		if h, ok := healthByName[m.Name]; ok {
			summary.Health = &h
			if h.Status == source.HealthHealthy {
				healthyCount++
			}
		}
		if in.IncludeStats && statsSrc != nil {
			if rate, total, ok := statsSrc.SourceStats(ctx, m.Name); ok {
				summary.Stats = &SourceStats{SuccessRate: rate, FeedbackCount: total}
			}
		}
		summaries = append(summaries, summary)
	}

	return &ListSourcesOutput{Sources: summaries, Total: len(summaries), Healthy: healthyCount}, nil
}

// --- record_resolution_feedback ---

type RecordResolutionFeedbackInput struct {
	IncidentID            string `validate:"required"`
	RunbookUsed           string
	ResolutionTimeMinutes int `validate:"gte=0"`
	WasSuccessful         bool
	Feedback              string
	RootCause             string
	ResolutionSummary     string `validate:"required"`
}

type RecordResolutionFeedbackOutput struct {
	FeedbackID string
	StoredAt   time.Time
	Analysis   string
}

// RecordResolutionFeedback is the sole write path into the feedback
// store and the only way adapter success-rate signals may update.
func (s *Service) RecordResolutionFeedback(ctx context.Context, in RecordResolutionFeedbackInput) (*RecordResolutionFeedbackOutput, error) {
	if err := validate.Struct(in); err != nil {
		return nil, perrors.Validation(err.Error())
	}
	if s.feedback == nil {
		return nil, perrors.Internal("feedback store not configured")
	}

	rec := FeedbackRecord{
		ID:                    uuid.NewString(),
		IncidentID:            in.IncidentID,
		RunbookUsed:           in.RunbookUsed,
		SourceName:            s.resolveSourceName(ctx, in.RunbookUsed),
		ResolutionTimeMinutes: in.ResolutionTimeMinutes,
		WasSuccessful:         in.WasSuccessful,
		Feedback:              in.Feedback,
		RootCause:             in.RootCause,
		ResolutionSummary:     in.ResolutionSummary,
		CreatedAt:             time.Now(),
	}
	if err := s.feedback.Record(ctx, rec); err != nil {
		return nil, err
	}

	analysis := "resolution recorded"
	if !in.WasSuccessful {
		analysis = "unsuccessful resolution recorded for review"
	}

	return &RecordResolutionFeedbackOutput{FeedbackID: rec.ID, StoredAt: rec.CreatedAt, Analysis: analysis}, nil
}

// resolveSourceName finds which registered adapter owns runbookID, the
// same way GetProcedure locates a document, so feedback can be
// attributed back to an adapter for list_sources(include_stats=true)
// even though callers only supply the runbook/document ID.
func (s *Service) resolveSourceName(ctx context.Context, runbookID string) string {
	if runbookID == "" {
		return ""
	}
	for _, name := range s.registry.Names() {
		if _, err := s.registry.Get(ctx, name, runbookID); err == nil {
			return name
		}
	}
	return ""
}
