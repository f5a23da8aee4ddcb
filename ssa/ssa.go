// Package ssa builds and queries programs in golang.org/x/tools/go/ssa form,
// the input of the lower package.
//
// The 'build' subpackage loads and type checks the source; Info holds the
// result together with helpers to find the functions to optimise.
//
package ssa

import (
	"go/token"
	"io"

	"golang.org/x/tools/go/loader"
	"golang.org/x/tools/go/ssa"
)

// Info holds the results of a SSA build.
// To populate this structure, the 'build' subpackage should be used.
//
type Info struct {
	IgnoredPkgs []string // Record of ignored package during the build process.

	FSet  *token.FileSet  // FileSet for parsed source files.
	Prog  *ssa.Program    // SSA IR for whole program.
	LProg *loader.Program // Loaded program from go/loader.

	BldLog io.Writer // Build log.
}

// SourcePkgs returns the packages built from the source given to the
// builder, leaving out their dependencies.
func (info *Info) SourcePkgs() []*ssa.Package {
	var pkgs []*ssa.Package
	for _, pi := range info.LProg.InitialPackages() {
		if pkg := info.Prog.Package(pi.Pkg); pkg != nil {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs
}
