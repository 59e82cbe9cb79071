// Package graph builds the layered package dependency graph (C2):
// an explicit package list, a plan document, or an audit report naming a
// root package and its direct dependencies all reduce to the same
// ordered sequence of model.PackageNode, stable-sorted by (layer, name).
package graph

import (
	"fmt"
	"sort"

	"buildforge/internal/model"
)

// Spec is one explicit package declaration as accepted from any of the
// three input modes described in the component design.
type Spec struct {
	Name     string
	Category string
	Deps     []string
}

// Build turns a list of package specs into a layered, cycle-checked
// sequence of PackageNode ready for classification and scheduling.
func Build(specs []Spec) ([]*model.PackageNode, error) {
	nodes := make(map[string]*model.PackageNode, len(specs))
	order := make([]*model.PackageNode, 0, len(specs))

	for _, s := range specs {
		if _, exists := nodes[s.Name]; exists {
			return nil, fmt.Errorf("graph: duplicate package name %q", s.Name)
		}
		cat, layer := model.LayerForCategory(s.Category)
		deps := make(map[string]struct{}, len(s.Deps))
		for _, d := range s.Deps {
			deps[d] = struct{}{}
		}
		n := &model.PackageNode{
			Name:         s.Name,
			Category:     cat,
			Layer:        layer,
			Dependencies: deps,
			BuildStatus:  model.StatusPending,
		}
		nodes[s.Name] = n
		order = append(order, n)
	}

	if cycle := detectCycle(nodes); cycle != "" {
		return nil, fmt.Errorf("graph: dependency cycle detected involving %q", cycle)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Layer != order[j].Layer {
			return order[i].Layer < order[j].Layer
		}
		return order[i].Name < order[j].Name
	})

	return order, nil
}

// detectCycle returns the name of one node on a cycle, or "" if the graph
// is acyclic. Unknown dependency names (referencing a package outside the
// input list) are ignored here; that is a scheduling concern, not a cycle.
func detectCycle(nodes map[string]*model.PackageNode) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))

	var visit func(name string) string
	visit = func(name string) string {
		color[name] = gray
		n := nodes[name]
		for dep := range n.Dependencies {
			if _, ok := nodes[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[name] = black
		return ""
	}

	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if color[name] == white {
			if c := visit(name); c != "" {
				return c
			}
		}
	}
	return ""
}
