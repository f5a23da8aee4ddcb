package instr_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nickng/lsr/instr"
	"github.com/nickng/lsr/ssa/build"
	"golang.org/x/tools/go/ssa"
)

// counter records the Visit method each instruction reached.
type counter struct {
	seen  map[string]int
	order []ssa.Instruction
}

func (c *counter) hit(name string, i ssa.Instruction) error {
	c.seen[name]++
	c.order = append(c.order, i)
	return nil
}

func (c *counter) VisitBinOp(i *ssa.BinOp) error           { return c.hit("BinOp", i) }
func (c *counter) VisitCall(i *ssa.Call) error             { return c.hit("Call", i) }
func (c *counter) VisitChangeType(i *ssa.ChangeType) error { return c.hit("ChangeType", i) }
func (c *counter) VisitConvert(i *ssa.Convert) error       { return c.hit("Convert", i) }
func (c *counter) VisitDebugRef(i *ssa.DebugRef) error     { return c.hit("DebugRef", i) }
func (c *counter) VisitFieldAddr(i *ssa.FieldAddr) error   { return c.hit("FieldAddr", i) }
func (c *counter) VisitIf(i *ssa.If) error                 { return c.hit("If", i) }
func (c *counter) VisitIndexAddr(i *ssa.IndexAddr) error   { return c.hit("IndexAddr", i) }
func (c *counter) VisitJump(i *ssa.Jump) error             { return c.hit("Jump", i) }
func (c *counter) VisitPhi(i *ssa.Phi) error               { return c.hit("Phi", i) }
func (c *counter) VisitReturn(i *ssa.Return) error         { return c.hit("Return", i) }
func (c *counter) VisitStore(i *ssa.Store) error           { return c.hit("Store", i) }
func (c *counter) VisitUnOp(i *ssa.UnOp) error             { return c.hit("UnOp", i) }
func (c *counter) VisitOther(i ssa.Instruction) error      { return c.hit(fmt.Sprintf("%T", i), i) }

const src = `package main
func fill(s []int64, n int32) {
	for i := int32(0); i < n; i++ {
		s[i] = int64(i) * 3
	}
}
func main() {}`

func buildFill(t *testing.T) *ssa.Function {
	t.Helper()
	info, err := build.FromReader(strings.NewReader(src)).Build()
	if err != nil {
		t.Fatalf("SSA build failed: %v", err)
	}
	fn, err := info.FindFunc("main.fill")
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestVisitBlocks(t *testing.T) {
	fn := buildFill(t)
	c := &counter{seen: make(map[string]int)}
	var entered []*ssa.BasicBlock
	if err := instr.VisitBlocks(c, fn, func(b *ssa.BasicBlock) { entered = append(entered, b) }); err != nil {
		t.Fatal(err)
	}
	if len(entered) != len(fn.Blocks) || entered[0] != fn.Blocks[0] {
		t.Errorf("entered %d of %d blocks, entry first", len(entered), len(fn.Blocks))
	}
	for _, name := range []string{"Phi", "If", "Jump", "Return", "IndexAddr", "Store", "Convert", "BinOp"} {
		if c.seen[name] == 0 {
			t.Errorf("no %s visited: %v", name, c.seen)
		}
	}
	// Operands other than phi edges come first.
	pos := make(map[ssa.Value]int)
	for k, i := range c.order {
		if v, ok := i.(ssa.Value); ok {
			pos[v] = k
		}
	}
	for k, i := range c.order {
		if _, ok := i.(*ssa.Phi); ok {
			continue
		}
		for _, op := range i.Operands(nil) {
			if d, ok := pos[*op]; ok && d > k {
				t.Errorf("%s visited before its operand %s", i, (*op).Name())
			}
		}
	}
}

type failing struct{ counter }

var errStop = fmt.Errorf("stop")

func (f *failing) VisitStore(*ssa.Store) error { return errStop }

func TestVisitBlocksStops(t *testing.T) {
	fn := buildFill(t)
	f := &failing{counter{seen: make(map[string]int)}}
	if err := instr.VisitBlocks(f, fn, nil); err != errStop {
		t.Errorf("expects the visitor error, got %v", err)
	}
}
