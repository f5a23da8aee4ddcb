package ir

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrInvalidFunc is the cause of every error returned by Verify.
var ErrInvalidFunc = errors.New("invalid function")

// Verify checks the structural invariants of f: edge symmetry, phi arity,
// use counts and def-dominates-use. All violations are reported together.
func Verify(f *Func) error {
	var err error
	dom := NewDomTree(f)
	uses := make(map[*Value]int32)
	for _, b := range f.Blocks {
		for _, s := range b.Succs {
			if s.PredIndex(b) < 0 {
				err = multierr.Append(err, errors.Errorf("%s -> %s missing from %s.Preds", b, s, s))
			}
		}
		for _, p := range b.Preds {
			if p.SuccIndex(b) < 0 {
				err = multierr.Append(err, errors.Errorf("%s <- %s missing from %s.Succs", b, p, p))
			}
		}
		switch b.Kind {
		case BlockPlain:
			if len(b.Succs) != 1 {
				err = multierr.Append(err, errors.Errorf("%s: plain block with %d successors", b, len(b.Succs)))
			}
		case BlockIf:
			if len(b.Succs) != 2 || b.Control == nil {
				err = multierr.Append(err, errors.Errorf("%s: malformed if block", b))
			}
		}
		if b.Control != nil {
			uses[b.Control]++
			if b.Control.Block == nil {
				err = multierr.Append(err, errors.Errorf("%s: control %s was removed", b, b.Control.Name()))
			} else if dom.Reachable(b) && !dom.DominatesBlockEnd(b.Control, b) {
				err = multierr.Append(err, errors.Errorf("%s: control %s does not dominate branch", b, b.Control.Name()))
			}
		}
		seenNonPhi := false
		for _, v := range b.Values {
			if v.Block != b {
				err = multierr.Append(err, errors.Errorf("%s: %s records block %v", b, v.Name(), v.Block))
			}
			if v.Op == OpPhi {
				if seenNonPhi {
					err = multierr.Append(err, errors.Errorf("%s: phi %s after non-phi", b, v.Name()))
				}
				if len(v.Args) != len(b.Preds) {
					err = multierr.Append(err, errors.Errorf("%s: phi %s has %d args for %d preds", b, v.Name(), len(v.Args), len(b.Preds)))
				}
			} else {
				seenNonPhi = true
			}
			for _, a := range v.Args {
				uses[a]++
				if a.Block == nil {
					err = multierr.Append(err, errors.Errorf("%s uses removed value %s", v.Name(), a.Name()))
					continue
				}
				if dom.Reachable(b) && !dom.ValueDominates(a, v) {
					err = multierr.Append(err, errors.Errorf("%s: %s does not dominate its use in %s", b, a.Name(), v.LongString()))
				}
			}
		}
	}
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			if uses[v] != v.Uses {
				err = multierr.Append(err, errors.Errorf("%s: use count %d, counted %d", v.Name(), v.Uses, uses[v]))
			}
		}
	}
	if err != nil {
		return errors.Wrapf(ErrInvalidFunc, "%s: %v", f.Name, err)
	}
	return nil
}
