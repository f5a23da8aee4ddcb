package ssa

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Functions returns the functions with a body declared in the source
// packages, including methods and closures, in source order.
func (info *Info) Functions() []*ssa.Function {
	src := make(map[*ssa.Package]bool)
	for _, pkg := range info.SourcePkgs() {
		src[pkg] = true
	}
	var fns []*ssa.Function
	for fn := range ssautil.AllFunctions(info.Prog) {
		if fn.Synthetic != "" || !hasBody(fn) {
			continue
		}
		if fn.Pkg != nil && src[fn.Pkg] {
			fns = append(fns, fn)
		}
	}
	byPos(fns)
	return fns
}

// UsedFunctions returns the source functions reachable from main according
// to the callgraph built by algo.
func (info *Info) UsedFunctions(algo string) ([]*ssa.Function, error) {
	graph, err := info.BuildCallGraph(algo)
	if err != nil {
		return nil, err
	}
	used, err := graph.UsedFunctions()
	if err != nil {
		return nil, err
	}
	reached := make(map[*ssa.Function]bool)
	for _, fn := range used {
		reached[fn] = true
	}
	var fns []*ssa.Function
	for _, fn := range info.Functions() {
		if reached[fn] {
			fns = append(fns, fn)
		}
	}
	return fns, nil
}

// FindFunc parses path (e.g. "github.com/nickng/lsr/ssa".MainPkgs or
// main.fill) and returns the Function body in SSA IR.
func (info *Info) FindFunc(path string) (*ssa.Function, error) {
	pkgPath, fnName := parseFuncPath(path)
	for _, fn := range info.Functions() {
		if fn.Name() != fnName || fn.Pkg == nil {
			continue
		}
		if pkg := fn.Pkg.Pkg; pkgPath == "" || pkg.Path() == pkgPath || pkg.Name() == pkgPath {
			return fn, nil
		}
	}
	return nil, errors.Wrap(ErrFuncNotFound, path)
}

// parseFuncPath splits path to package and function segments.
// Does not handle complex functions with receivers.
func parseFuncPath(path string) (pkgPath, fnName string) {
	if len(path) < 1 {
		return "", ""
	}
	switch path[0] {
	case '(':
		regex := regexp.MustCompile(`\((?P<pkg>[^)]+)\).(?P<fn>.+)`)
		submatches := regex.FindStringSubmatch(path)
		if len(submatches) >= 3 {
			return submatches[1], submatches[2]
		}
	case '"':
		regex := regexp.MustCompile(`"(?P<pkg>[^)]+)".(?P<fn>.+)`)
		submatches := regex.FindStringSubmatch(path)
		if len(submatches) >= 3 {
			return submatches[1], submatches[2]
		}
	default:
		if i := strings.LastIndex(path, "."); i >= 0 {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}
