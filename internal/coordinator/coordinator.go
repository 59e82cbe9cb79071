// Package coordinator implements the recovery controller (C4): a pure
// decision function over a failure report, the available repair agents,
// and the current retry budget, plus the synchronous repair-agent
// invocation that produces RETRY/RESOLVED/ESCALATE in one call.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"buildforge/internal/capabilities"
	"buildforge/internal/logging"
	"buildforge/internal/metrics"
	"buildforge/internal/model"
)

// Registry holds the known repair agents, keyed for lookup by problem type.
type Registry struct {
	entries []model.AgentRegistryEntry
}

// NewRegistry builds a lookup registry from a flat list of agent entries.
func NewRegistry(entries []model.AgentRegistryEntry) *Registry {
	return &Registry{entries: entries}
}

// candidatesFor returns the agents that declare support for a problem type,
// ordered by descending priority then name for determinism.
func (r *Registry) candidatesFor(pt model.ProblemType) []model.AgentRegistryEntry {
	var out []model.AgentRegistryEntry
	for _, e := range r.entries {
		for _, p := range e.ProblemTypes {
			if p == pt {
				out = append(out, e)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Coordinator resolves problems to actions, invoking a repair agent
// synchronously via the AgentExecutor when the decision table calls for it.
type Coordinator struct {
	registry *Registry
	executor capabilities.AgentExecutor
}

// New builds a Coordinator over the given agent registry and executor.
func New(registry *Registry, executor capabilities.AgentExecutor) *Coordinator {
	return &Coordinator{registry: registry, executor: executor}
}

// Decide applies the fixed decision table in order. attemptNumber is the
// 1-based count of coordinator invocations already made for the current
// phase, including this one.
func (c *Coordinator) Decide(ctx context.Context, p model.Problem, attemptNumber, maxAttempts int) model.CoordinatorAction {
	action := c.decide(ctx, p, attemptNumber, maxAttempts)
	metrics.Get().RecordCoordinatorDecision(string(action.Decision))
	return action
}

func (c *Coordinator) decide(ctx context.Context, p model.Problem, attemptNumber, maxAttempts int) model.CoordinatorAction {
	if attemptNumber > maxAttempts {
		return model.CoordinatorAction{
			Decision:  model.DecisionEscalate,
			Escalation: &model.Escalation{Reason: "exhausted attempts"},
			Reasoning: fmt.Sprintf("attempt %d exceeds max %d for phase %s", attemptNumber, maxAttempts, p.Context.Phase),
		}
	}

	candidates := c.registry.candidatesFor(p.Type)
	if len(candidates) == 0 {
		return model.CoordinatorAction{
			Decision:   model.DecisionEscalate,
			Escalation: &model.Escalation{Reason: "no handler"},
			Reasoning:  fmt.Sprintf("no registered agent handles %s", p.Type),
		}
	}

	agent := candidates[0]
	task := buildTask(p)

	result, err := c.executor.Execute(ctx, agent.Path, capabilities.AgentExecutionContext{
		PackageName: p.Context.PackageName,
		PackagePath: p.Context.PackagePath,
		Task:        task,
	})
	if err != nil {
		logging.S().Warnw("coordinator: agent invocation raised an unrecoverable error", "package", p.Context.PackageName, "agent", agent.Name, "err", err)
		return model.CoordinatorAction{
			Decision:   model.DecisionEscalate,
			Agent:      agent.Name,
			Task:       task,
			Escalation: &model.Escalation{Reason: "agent invocation error: " + err.Error()},
			Reasoning:  "repair agent could not be executed",
		}
	}

	if !result.Success {
		logging.S().Warnw("coordinator: agent invocation raised an unrecoverable error", "package", p.Context.PackageName, "agent", agent.Name)
		return model.CoordinatorAction{
			Decision:   model.DecisionEscalate,
			Agent:      agent.Name,
			Task:       task,
			Escalation: &model.Escalation{Reason: "agent invocation failed"},
			Reasoning:  "repair agent exited unsuccessfully",
		}
	}

	if result.Resolved {
		return model.CoordinatorAction{
			Decision:  model.DecisionResolved,
			Agent:     agent.Name,
			Task:      task,
			Reasoning: "agent reported resolved; no retry needed",
		}
	}

	if len(result.Changes) > 0 {
		mods := make([]model.Modification, 0, len(result.Changes))
		for _, f := range result.Changes {
			mods = append(mods, model.Modification{Path: f, Change: "modified"})
		}
		return model.CoordinatorAction{
			Decision:      model.DecisionRetry,
			Agent:         agent.Name,
			Task:          task,
			Modifications: mods,
			Reasoning:     "agent produced file modifications; re-run the failed phase",
		}
	}

	return model.CoordinatorAction{
		Decision:  model.DecisionFail,
		Agent:     agent.Name,
		Task:      task,
		Reasoning: "repair agent completed without modifying files or resolving the problem",
	}
}

func buildTask(p model.Problem) string {
	task := fmt.Sprintf("Fix %s in package %s (phase %s, attempt %d): %s",
		p.Type, p.Context.PackageName, p.Context.Phase, p.Context.AttemptNumber, p.Error.Message)
	if p.Error.Stderr != "" {
		task += "\n\nstderr:\n" + p.Error.Stderr
	}
	if a := p.Context.Audit; a != nil {
		task += fmt.Sprintf("\n\npackage is %d%% complete\nexisting files: %s\nmissing files: %s",
			a.CompletionPercentage, joinOrNone(a.ExistingFiles), joinOrNone(a.MissingFiles))
	}
	return task
}

func joinOrNone(files []string) string {
	if len(files) == 0 {
		return "none"
	}
	return strings.Join(files, ", ")
}
