// Package tracker counts workflow outcomes on a private Prometheus registry.
package tracker

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "imbi_automations"

// Tracker holds the run counters. It is safe for concurrent use.
//
//nolint:govet // Counter struct, grouped by scope
type Tracker struct {
	registry *prometheus.Registry

	workflowRemoteConditionsNotMet prometheus.Counter
	workflowConditionsNotMet       prometheus.Counter
	repositoriesCloned             prometheus.Counter
	actionsCommitted               prometheus.Counter
	pullRequestsCreated            prometheus.Counter
	projectsSucceeded              prometheus.Counter
	projectsFailed                 prometheus.Counter

	actionsExecuted               *prometheus.CounterVec
	actionsFilterSkipped          *prometheus.CounterVec
	actionsConditionSkipped       *prometheus.CounterVec
	actionsRemoteConditionSkipped *prometheus.CounterVec
}

// New creates a tracker with its own registry.
func New() *Tracker {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	byType := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, []string{"type"})
	}

	return &Tracker{
		registry: registry,

		workflowRemoteConditionsNotMet: counter("workflow_remote_conditions_not_met",
			"Projects skipped because workflow remote conditions were not met"),
		workflowConditionsNotMet: counter("workflow_conditions_not_met",
			"Projects skipped because workflow local conditions were not met"),
		repositoriesCloned:  counter("repositories_cloned", "Repositories cloned"),
		actionsCommitted:    counter("actions_committed", "Actions whose changes were committed"),
		pullRequestsCreated: counter("pull_requests_created", "Pull requests opened"),
		projectsSucceeded:   counter("projects_succeeded", "Projects whose workflow completed"),
		projectsFailed:      counter("projects_failed", "Projects whose workflow failed"),

		actionsExecuted: byType("actions_executed", "Actions dispatched, by action type"),
		actionsFilterSkipped: byType("actions_filter_skipped",
			"Actions skipped because their filter excluded the project"),
		actionsConditionSkipped: byType("actions_condition_skipped",
			"Actions skipped because their local conditions were not met"),
		actionsRemoteConditionSkipped: byType("actions_remote_condition_skipped",
			"Actions skipped because their remote conditions were not met"),
	}
}

func (t *Tracker) WorkflowRemoteConditionsNotMet() { t.workflowRemoteConditionsNotMet.Inc() }
func (t *Tracker) WorkflowConditionsNotMet()       { t.workflowConditionsNotMet.Inc() }
func (t *Tracker) RepositoryCloned()               { t.repositoriesCloned.Inc() }
func (t *Tracker) ActionCommitted()                { t.actionsCommitted.Inc() }
func (t *Tracker) PullRequestCreated()             { t.pullRequestsCreated.Inc() }
func (t *Tracker) ProjectSucceeded()               { t.projectsSucceeded.Inc() }
func (t *Tracker) ProjectFailed()                  { t.projectsFailed.Inc() }

func (t *Tracker) ActionExecuted(kind string) { t.actionsExecuted.WithLabelValues(kind).Inc() }

func (t *Tracker) ActionFilterSkipped(kind string) {
	t.actionsFilterSkipped.WithLabelValues(kind).Inc()
}

func (t *Tracker) ActionConditionSkipped(kind string) {
	t.actionsConditionSkipped.WithLabelValues(kind).Inc()
}

func (t *Tracker) ActionRemoteConditionSkipped(kind string) {
	t.actionsRemoteConditionSkipped.WithLabelValues(kind).Inc()
}

// Registry exposes the underlying registry.
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// Totals returns every counter summed across labels, keyed by metric name
// without the namespace.
func (t *Tracker) Totals() (map[string]float64, error) {
	families, err := t.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}
	totals := make(map[string]float64, len(families))
	prefix := namespace + "_"
	for _, mf := range families {
		name := mf.GetName()
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			name = name[len(prefix):]
		}
		for _, m := range mf.GetMetric() {
			totals[name] += m.GetCounter().GetValue()
		}
	}
	return totals, nil
}

// WriteText writes the registry in the Prometheus text exposition format.
func (t *Tracker) WriteText(w io.Writer) error {
	families, err := t.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile writes the text exposition to path.
func (t *Tracker) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	if err := t.WriteText(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
