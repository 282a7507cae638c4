package transfersaga

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// StepName identifies one forward step of the transfer saga.
type StepName string

const (
	StepValidate     StepName = "validate"
	StepLockAccounts StepName = "lock-accounts"
	StepDebit        StepName = "debit"
	StepCredit       StepName = "credit"
)

// stepPlan is the forward execution plan as a directed acyclic graph. The
// money-transfer plan is a chain today, but deriving the order from the
// graph keeps the executor loop unchanged if a step (say, FX conversion) is
// inserted between debit and credit.
type stepPlan struct {
	graph *simple.DirectedGraph
	steps map[int64]StepName
}

// newTransferPlan builds the standard plan:
// validate -> lock-accounts -> debit -> credit.
func newTransferPlan() *stepPlan {
	p := &stepPlan{
		graph: simple.NewDirectedGraph(),
		steps: make(map[int64]StepName),
	}
	validate := p.addStep(StepValidate)
	lock := p.addStep(StepLockAccounts)
	debit := p.addStep(StepDebit)
	credit := p.addStep(StepCredit)
	p.addEdge(validate, lock)
	p.addEdge(lock, debit)
	p.addEdge(debit, credit)
	return p
}

func (p *stepPlan) addStep(name StepName) int64 {
	node := p.graph.NewNode()
	p.graph.AddNode(node)
	p.steps[node.ID()] = name
	return node.ID()
}

func (p *stepPlan) addEdge(from, to int64) {
	p.graph.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
}

// Order returns the step names in execution order using a stabilized
// topological sort, with node-ID tie-breaking for deterministic results.
func (p *stepPlan) Order() ([]StepName, error) {
	sorted, err := topo.SortStabilized(p.graph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("step plan is not acyclic: %w", err)
	}

	order := make([]StepName, len(sorted))
	for i, node := range sorted {
		order[i] = p.steps[node.ID()]
	}
	return order, nil
}
