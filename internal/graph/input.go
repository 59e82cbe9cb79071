package graph

import (
	"encoding/json"
	"fmt"
)

// PackageRef is one package declaration as read from any on-disk input
// document (audit report or plan document), before it is reduced to a
// Spec for Build. It carries the path information Spec doesn't need so
// callers can build model.PackageBuildInput from the same value.
type PackageRef struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	PlanPath string   `json:"planPath"`
	Category string   `json:"category"`
	Deps     []string `json:"deps"`
}

// AuditReport is the first of the three dependency-graph input modes: a
// document naming a root package and its direct dependencies, as produced
// by an upstream package audit.
type AuditReport struct {
	RootPackage  PackageRef   `json:"rootPackage"`
	Dependencies []PackageRef `json:"dependencies"`
}

// ParseAuditReport decodes an audit report document. A missing root
// package name is a contract violation: there is nothing to build.
func ParseAuditReport(data []byte) (AuditReport, error) {
	var r AuditReport
	if err := json.Unmarshal(data, &r); err != nil {
		return AuditReport{}, fmt.Errorf("parse audit report: %w", err)
	}
	if r.RootPackage.Name == "" {
		return AuditReport{}, fmt.Errorf("parse audit report: contract violation: rootPackage.name is required")
	}
	return r, nil
}

// RefsFromAuditReport flattens an audit report into the root package plus
// its direct dependencies, wiring the root's Deps to the dependency names
// so Build sees the same edge the audit report named.
func RefsFromAuditReport(r AuditReport) []PackageRef {
	root := r.RootPackage
	root.Deps = make([]string, 0, len(r.Dependencies))
	for _, d := range r.Dependencies {
		root.Deps = append(root.Deps, d.Name)
	}
	refs := make([]PackageRef, 0, len(r.Dependencies)+1)
	refs = append(refs, root)
	refs = append(refs, r.Dependencies...)
	return refs
}

// PlanParser is the external collaborator an opaque plan document is
// handed to: the graph builder never interprets plan document contents
// itself, only the ordered node list a parser returns from it.
type PlanParser interface {
	ParsePlan(raw []byte) ([]PackageRef, error)
}

// planFeature mirrors the feature-list shape a build plan document
// carries: each feature becomes one package node, and a feature's
// declared dependencies become that node's graph edges.
type planFeature struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Dependencies []string `json:"dependencies"`
	PlanPath     string   `json:"planPath"`
}

type planDocument struct {
	Features []planFeature `json:"features"`
}

// JSONPlanParser parses a plan document shaped as a flat feature list,
// each feature carrying its own dependency names. A feature with no name
// falls back to its ID so a parser failure doesn't collapse every node
// to the empty string.
type JSONPlanParser struct{}

// ParsePlan implements PlanParser over the feature-list JSON shape.
func (JSONPlanParser) ParsePlan(raw []byte) ([]PackageRef, error) {
	var doc planDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse plan document: %w", err)
	}
	if len(doc.Features) == 0 {
		return nil, fmt.Errorf("parse plan document: contract violation: no features declared")
	}
	refs := make([]PackageRef, 0, len(doc.Features))
	for _, f := range doc.Features {
		name := f.Name
		if name == "" {
			name = f.ID
		}
		if name == "" {
			return nil, fmt.Errorf("parse plan document: contract violation: feature missing both id and name")
		}
		refs = append(refs, PackageRef{
			Name:     name,
			Category: f.Category,
			Deps:     f.Dependencies,
			PlanPath: f.PlanPath,
		})
	}
	return refs, nil
}

// SpecsFromRefs projects the path-bearing PackageRef list down to the
// bare Spec shape Build consumes.
func SpecsFromRefs(refs []PackageRef) []Spec {
	specs := make([]Spec, 0, len(refs))
	for _, r := range refs {
		specs = append(specs, Spec{Name: r.Name, Category: r.Category, Deps: r.Deps})
	}
	return specs
}
