package loop

import (
	"io"
	"io/ioutil"
	"log"
	"sort"

	"github.com/nickng/lsr/ir"
)

// Info holds the loop nest of a function.
type Info struct {
	top    []*Loop // outermost loops
	all    []*Loop
	loopOf map[*ir.Block]*Loop // innermost loop of each block
	logger *log.Logger
}

// Analyse discovers the natural loops of f.
func Analyse(f *ir.Func, dom *ir.DomTree) *Info {
	return AnalyseWithLog(f, dom, nil)
}

// AnalyseWithLog is Analyse with a debug log written to w.
func AnalyseWithLog(f *ir.Func, dom *ir.DomTree, w io.Writer) *Info {
	info := &Info{
		loopOf: make(map[*ir.Block]*Loop),
		logger: log.New(ioutil.Discard, "loopdetect: ", 0),
	}
	if w != nil {
		info.logger.SetOutput(w)
	}
	headers := make(map[*ir.Block]*Loop)
	for _, h := range dom.PreorderBlocks(f.Entry) {
		for _, p := range h.Preds {
			if !dom.Dominates(h, p) {
				continue
			}
			l, ok := headers[h]
			if !ok {
				l = newLoop(h)
				headers[h] = l
				info.all = append(info.all, l)
				info.logger.Printf("back edge %s -> %s: new loop", p, h)
			}
			info.collectBody(l, p)
		}
	}
	for _, l := range info.all {
		for _, b := range f.Blocks {
			if l.blocks[b] && b != l.Header {
				l.Blocks = append(l.Blocks, b)
			}
		}
		l.Blocks = append([]*ir.Block{l.Header}, l.Blocks...)
	}
	// Smaller loops first: the first enclosing loop found is the parent.
	sorted := append([]*Loop(nil), info.all...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Blocks) < len(sorted[j].Blocks) })
	for i, l := range sorted {
		for _, o := range sorted[i+1:] {
			if o.Contains(l.Header) {
				l.Parent = o
				o.Children = append(o.Children, l)
				break
			}
		}
		if l.Parent == nil {
			info.top = append(info.top, l)
		}
		for _, b := range l.Blocks {
			if _, ok := info.loopOf[b]; !ok {
				info.loopOf[b] = l
			}
		}
	}
	return info
}

// collectBody adds the blocks reaching latch without passing the header.
func (info *Info) collectBody(l *Loop, latch *ir.Block) {
	work := NewStack()
	if !l.blocks[latch] {
		l.blocks[latch] = true
		work.Push(latch)
	}
	for !work.IsEmpty() {
		b, _ := work.Pop()
		for _, p := range b.Preds {
			if !l.blocks[p] {
				l.blocks[p] = true
				work.Push(p)
			}
		}
	}
}

// LoopFor returns the innermost loop containing b, or nil.
func (info *Info) LoopFor(b *ir.Block) *Loop { return info.loopOf[b] }

// TopLevel returns the outermost loops.
func (info *Info) TopLevel() []*Loop { return info.top }

// Innermost returns the loops without subloops, in discovery order.
func (info *Info) Innermost() []*Loop {
	var inner []*Loop
	for _, l := range info.all {
		if l.IsInnermost() {
			inner = append(inner, l)
		}
	}
	return inner
}

// AddBlock records a new block b belonging to l.
func (info *Info) AddBlock(b *ir.Block, l *Loop) {
	if l == nil {
		return
	}
	l.AddBlock(b)
	info.loopOf[b] = l
}

// SetLog sets debug output stream to w.
func (info *Info) SetLog(w io.Writer) {
	if w != nil {
		info.logger.SetOutput(w)
	}
}
