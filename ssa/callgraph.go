package ssa

import (
	"sort"

	"github.com/pkg/errors"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/callgraph/rta"
	"golang.org/x/tools/go/callgraph/static"
	"golang.org/x/tools/go/ssa"
)

// CallGraph is a callgraph of the program, used to restrict the optimisation
// to the functions a command actually runs.
type CallGraph struct {
	cg      *callgraph.Graph // Internal cached copy of the callgraph.
	prog    *ssa.Program     // SSA Program for which the callgraph is built from.
	usedFns []*ssa.Function  // Functions reachable from main.
	allFns  []*ssa.Function  // Functions in the callgraph (including unused).
}

// byPos orders functions by source position, then name.
func byPos(fns []*ssa.Function) {
	sort.Slice(fns, func(i, j int) bool {
		if fns[i].Pos() != fns[j].Pos() {
			return fns[i].Pos() < fns[j].Pos()
		}
		return fns[i].String() < fns[j].String()
	})
}

// AllFunctions return all ssa.Functions in the callgraph, including the
// main roots and functions without any call edge.
func (g *CallGraph) AllFunctions() ([]*ssa.Function, error) {
	if g.allFns != nil {
		return g.allFns, nil
	}
	visited := make(map[*ssa.Function]bool)
	for fn := range g.cg.Nodes {
		if fn != nil {
			visited[fn] = true
		}
	}
	if err := callgraph.GraphVisitEdges(g.cg, func(edge *callgraph.Edge) error {
		for _, fn := range []*ssa.Function{edge.Caller.Func, edge.Callee.Func} {
			if fn != nil {
				visited[fn] = true
			}
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "callgraph: failed to visit edges")
	}
	if mains, err := MainPkgs(g.prog); err == nil {
		for _, fn := range mainRoots(mains) {
			visited[fn] = true
		}
	}
	for fn := range visited {
		g.allFns = append(g.allFns, fn)
	}
	byPos(g.allFns)
	return g.allFns, nil
}

// mainRoots returns init and main of the main packages.
func mainRoots(mains []*ssa.Package) []*ssa.Function {
	var roots []*ssa.Function
	for _, main := range mains {
		for _, name := range []string{"init", "main"} {
			if fn := main.Func(name); fn != nil {
				roots = append(roots, fn)
			}
		}
	}
	return roots
}

// UsedFunctions return the ssa.Functions reachable from main.init() and
// main.main().
func (g *CallGraph) UsedFunctions() ([]*ssa.Function, error) {
	if g.usedFns != nil {
		return g.usedFns, nil
	}

	callTree := make(map[*ssa.Function][]*ssa.Function)
	if err := callgraph.GraphVisitEdges(g.cg, func(edge *callgraph.Edge) error {
		callTree[edge.Caller.Func] = append(callTree[edge.Caller.Func], edge.Callee.Func)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "callgraph: failed to visit edges")
	}

	mains, err := MainPkgs(g.prog)
	if err != nil {
		return nil, errors.Wrap(err, "callgraph: failed to find main packages (Check if this this a command?)")
	}
	fnQueue := mainRoots(mains)

	visited := make(map[*ssa.Function]bool)
	for len(fnQueue) > 0 {
		headFn := fnQueue[0]
		fnQueue = fnQueue[1:]
		visited[headFn] = true
		for _, fn := range callTree[headFn] {
			if !visited[fn] {
				fnQueue = append(fnQueue, fn)
			}
			visited[fn] = true
		}
	}
	for fn := range visited {
		g.usedFns = append(g.usedFns, fn)
	}
	byPos(g.usedFns)
	return g.usedFns, nil
}

// BuildCallGraph constructs a callgraph from ssa.Info.
// algo is algorithm available in golang.org/x/tools/go/callgraph, which
// includes:
//  - static  static calls only (unsound)
//  - cha     Class Hierarchy Analysis
//  - rta     Rapid Type Analysis
//
func (info *Info) BuildCallGraph(algo string) (*CallGraph, error) {
	var cg *callgraph.Graph
	switch algo {
	case "static":
		cg = static.CallGraph(info.Prog)

	case "cha":
		cg = cha.CallGraph(info.Prog)

	case "rta":
		mains, err := MainPkgs(info.Prog)
		if err != nil {
			return nil, err
		}
		cg = rta.Analyze(mainRoots(mains), true).CallGraph

	default:
		return nil, errors.Wrap(ErrUnknownAlgo, algo)
	}

	cg.DeleteSyntheticNodes()

	return &CallGraph{cg: cg, prog: info.Prog}, nil
}
