package ssa

import "io"

// WriteFunc writes the SSA IR of the function named by path to w, in the
// format of golang.org/x/tools/go/ssa.
func (info *Info) WriteFunc(w io.Writer, path string) (int64, error) {
	fn, err := info.FindFunc(path)
	if err != nil {
		return 0, err
	}
	return fn.WriteTo(w)
}

// WriteTo writes every source function to w in human readable SSA IR
// instruction format.
func (info *Info) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, fn := range info.Functions() {
		written, err := fn.WriteTo(w)
		n += written
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
