package ssa

import "github.com/pkg/errors"

var (
	ErrNoMainPkgs   = errors.New("no main packages")
	ErrFuncNotFound = errors.New("function not found")
	ErrUnknownAlgo  = errors.New("unknown callgraph algorithm")
)
