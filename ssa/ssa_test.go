package ssa_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nickng/lsr/ssa"
	"github.com/nickng/lsr/ssa/build"
	"github.com/pkg/errors"
	gossa "golang.org/x/tools/go/ssa"
)

const callProg = `package main
func main() {
	var a [8]int
	foo(a[:])
}
func foo(s []int) {
	for i := range s {
		s[i] = i
	}
}
func bar(p *[4]int) {
	for i := 0; i < 4; i++ {
		p[i]++
	}
}
type T struct{ x [4]int }
func (t *T) reset() {
	for i := range t.x {
		t.x[i] = 0
	}
}`

func mustBuild(t *testing.T, src string) *ssa.Info {
	t.Helper()
	info, err := build.FromReader(strings.NewReader(src)).Build()
	if err != nil {
		t.Fatalf("SSA build failed: %v", err)
	}
	return info
}

// This tests building with non-main package.
func TestBuildNonMainPkg(t *testing.T) {
	info := mustBuild(t, `package pkg
	func main() {}`)
	if _, err := ssa.MainPkgs(info.Prog); err != ssa.ErrNoMainPkgs {
		t.Errorf("unexpected main package")
	}
	if _, err := info.BuildCallGraph("rta"); err != ssa.ErrNoMainPkgs {
		t.Errorf("expects rta to need a main package, got %v", err)
	}
}

func TestFunctions(t *testing.T) {
	info := mustBuild(t, callProg)
	var got []string
	for _, fn := range info.Functions() {
		got = append(got, fn.Name())
	}
	want := []string{"main", "foo", "bar", "reset"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Functions() = %v, want %v", got, want)
	}
}

// This tests building of callgraph.
func TestCallGraph(t *testing.T) {
	info := mustBuild(t, callProg)
	for _, algo := range []string{"static", "cha", "rta"} {
		t.Run(algo, func(t *testing.T) {
			graph, err := info.BuildCallGraph(algo)
			if err != nil {
				t.Fatalf("build callgraph failed: %v", err)
			}
			used, err := graph.UsedFunctions()
			if err != nil {
				t.Fatalf("cannot filter unused functions in callgraph: %v", err)
			}
			all, err := graph.AllFunctions()
			if err != nil {
				t.Fatalf("cannot get functions in callgraph: %v", err)
			}
			if len(all) < len(used) {
				t.Errorf("callgraph has %d functions, %d are used. Expect used <= all", len(all), len(used))
			}
			inGraph := make(map[*gossa.Function]bool)
			for _, fn := range all {
				inGraph[fn] = true
			}
			for _, fn := range used {
				if !inGraph[fn] {
					t.Errorf("used function %s missing from the callgraph", fn)
				}
			}
			for _, fn := range used {
				if fn.Pkg != nil && fn.Pkg.Pkg.Name() == "main" && fn.Name() == "bar" {
					t.Errorf("main.bar is not called but reported used")
				}
			}
		})
	}
	if _, err := info.BuildCallGraph("pta"); errors.Cause(err) != ssa.ErrUnknownAlgo {
		t.Errorf("expects unknown algorithm, got %v", err)
	}
}

func TestUsedFunctions(t *testing.T) {
	info := mustBuild(t, callProg)
	fns, err := info.UsedFunctions("rta")
	if err != nil {
		t.Fatalf("UsedFunctions: %v", err)
	}
	var got []string
	for _, fn := range fns {
		got = append(got, fn.Name())
	}
	if strings.Join(got, ",") != "main,foo" {
		t.Errorf("used source functions = %v, want [main foo]", got)
	}
}

func TestFindFunc(t *testing.T) {
	info := mustBuild(t, callProg)
	tests := []struct {
		path string
		want string
	}{
		{"main.foo", "foo"},
		{`"main".bar`, "bar"},
		{"(main).reset", "reset"},
		{"bar", "bar"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			fn, err := info.FindFunc(tc.path)
			if err != nil {
				t.Fatalf("FindFunc: %v", err)
			}
			if fn.Name() != tc.want {
				t.Errorf("found %s, want %s", fn.Name(), tc.want)
			}
		})
	}
	if _, err := info.FindFunc("main.baz"); errors.Cause(err) != ssa.ErrFuncNotFound {
		t.Errorf("expects ErrFuncNotFound, got %v", err)
	}
}

func TestWriteFunc(t *testing.T) {
	info := mustBuild(t, callProg)
	var buf bytes.Buffer
	if _, err := info.WriteFunc(&buf, "main.foo"); err != nil {
		t.Fatalf("WriteFunc: %v", err)
	}
	if !strings.Contains(buf.String(), "func foo(s []int)") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
	buf.Reset()
	if _, err := info.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	for _, name := range []string{"main", "foo", "bar", "reset"} {
		if !strings.Contains(buf.String(), "# Name: ") || !strings.Contains(buf.String(), name) {
			t.Errorf("%s missing from output", name)
		}
	}
}
