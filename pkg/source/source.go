// Package source defines the Source Adapter contract (C3): the common
// interface every knowledge-source plugin implements, plus the shared
// data types (Document, SearchResult, Runbook, HealthCheck, Filter) that
// flow between adapters and the retrieval pipeline. New code — the
// teacher has no plugin-adapter layer — styled after its
// interface-first design (internal/core/interfaces.go) and the
// publishing layer's per-backend contract shape.
package source

import (
	"context"
	"time"
)

// Document is the normalized unit of retrievable content an adapter
// returns, regardless of what backend it came from.
type Document struct {
	ID         string            `json:"id"`
	SourceName string            `json:"source_name"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	URL        string            `json:"url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`

	// RetrievalTimeMs is stamped by the pipeline on every Document it
	// returns (spec.md §4.4(c)): the wall-clock cost of the query that
	// produced this result, not a per-adapter figure.
	RetrievalTimeMs int64 `json:"retrieval_time_ms"`
	// Category is the owning adapter's configured kind (file, git_host,
	// wiki, database, web), filled in by the pipeline's rank stage.
	Category string `json:"category,omitempty"`
	// Confidence is the adapter-reported relevance of this specific
	// document, distinct from FinalScore's cross-adapter ranking blend.
	Confidence float64 `json:"confidence"`
	// Excerpt is a short preview of Content for callers that don't need
	// the full body (e.g. search_knowledge_base with include_content=false).
	Excerpt string `json:"excerpt,omitempty"`
	// MatchReasons explains which signals contributed to this result
	// surfacing at all (e.g. the adapter's reported match_type).
	MatchReasons []string `json:"match_reasons,omitempty"`
}

// SearchResult wraps a Document with the ranking signals the pipeline's
// hybrid ranker (C6) needs: a raw adapter-reported relevance score plus
// which matching strategy produced it.
type SearchResult struct {
	Document       Document `json:"document"`
	RelevanceScore float64  `json:"relevance_score"`
	MatchType      string   `json:"match_type"` // "semantic", "lexical", "metadata"
}

// Runbook is a specialized Document representing an operational
// procedure: it carries structured decision-tree and escalation data in
// addition to free-text content, since the tool layer's
// get_decision_tree/get_procedure/get_escalation_path operations need to
// address those substructures individually.
type Runbook struct {
	Document
	Severity       string           `json:"severity,omitempty"`
	DecisionTree   []DecisionNode   `json:"decision_tree,omitempty"`
	Procedures     []Procedure      `json:"procedures,omitempty"`
	EscalationPath []EscalationStep `json:"escalation_path,omitempty"`
}

type DecisionNode struct {
	ID        string   `json:"id"`
	Condition string   `json:"condition"`
	NextSteps []string `json:"next_steps,omitempty"`
	Action    string   `json:"action,omitempty"`
}

type Procedure struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

type EscalationStep struct {
	Level   int    `json:"level"`
	Target  string `json:"target"`
	Trigger string `json:"trigger"`
}

// Filter narrows a search or list call; zero values mean "no constraint".
type Filter struct {
	ContentTypes []string
	Severity     string
	MaxResults   int
	UpdatedSince time.Time
}

// HealthStatus is the coarse status an adapter reports; the aggregator
// (C8) rolls these up across every registered adapter.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// HealthCheck is one adapter's self-reported health.
type HealthCheck struct {
	SourceName string       `json:"source_name"`
	Status     HealthStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	LastCheck  time.Time    `json:"last_check"`
	Latency    time.Duration `json:"latency"`
}

// Metadata describes an adapter instance for list_sources (C7).
type Metadata struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description,omitempty"`
	RefreshedAt  time.Time `json:"refreshed_at,omitempty"`
	DocumentCount int      `json:"document_count"`
}

// Adapter is the contract every knowledge source plugin implements. The
// registry (C5) calls these through a retry+circuit-breaker wrapper, so
// adapter implementations themselves should return perrors-classified
// errors and not implement their own retry loops.
type Adapter interface {
	// Name is the configured, unique source name.
	Name() string

	// Initialize prepares the adapter for use (opens connections,
	// validates credentials). Called once by the registry at startup.
	Initialize(ctx context.Context) error

	// Search performs a free-text query against this source.
	Search(ctx context.Context, query string, filter Filter) ([]SearchResult, error)

	// Get retrieves a single document by ID.
	Get(ctx context.Context, id string) (*Document, error)

	// SearchRunbooks is like Search but scoped to operational runbooks;
	// adapters that don't distinguish runbooks from general documents
	// may implement this by filtering Search results.
	SearchRunbooks(ctx context.Context, query string, filter Filter) ([]Runbook, error)

	// HealthCheck reports this adapter's current reachability.
	HealthCheck(ctx context.Context) HealthCheck

	// RefreshIndex asks the adapter to refresh any internal index or
	// cache of upstream content; a no-op for adapters with no such
	// notion (e.g. a stateless HTTP-backed source).
	RefreshIndex(ctx context.Context) error

	// Metadata describes this adapter instance for list_sources.
	Metadata(ctx context.Context) Metadata

	// Cleanup releases any held resources (connections, file handles).
	Cleanup(ctx context.Context) error
}
