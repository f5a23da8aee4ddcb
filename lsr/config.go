package lsr

import "github.com/xyproto/env/v2"

// Config holds the tuning knobs of the pass.
type Config struct {
	// MaxIVUsers is the most IV users a loop may have before the pass gives up.
	MaxIVUsers int
	// MaxChains bounds the number of open IV chains.
	MaxChains int
	// MaxIVChainUsers bounds the users examined per chain.
	MaxIVChainUsers int
	// ComplexityLimit is the ceiling on the product of formula counts per
	// use before the search space is narrowed.
	ComplexityLimit int
	// MaxReassociateDepth bounds recursion when splitting registers.
	MaxReassociateDepth int

	EnablePhiElim          bool
	EnableChains           bool
	StressIVChain          bool
	DropUnprofitableChains bool
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		MaxIVUsers:             200,
		MaxChains:              8,
		MaxIVChainUsers:        64,
		ComplexityLimit:        65535,
		MaxReassociateDepth:    3,
		EnablePhiElim:          true,
		EnableChains:           true,
		DropUnprofitableChains: true,
	}
}

// ConfigFromEnv returns the default tuning overridden by LSR_* variables.
func ConfigFromEnv() Config {
	c := DefaultConfig()
	c.MaxIVUsers = env.Int("LSR_MAX_IV_USERS", c.MaxIVUsers)
	c.MaxChains = env.Int("LSR_MAX_CHAINS", c.MaxChains)
	c.MaxIVChainUsers = env.Int("LSR_MAX_IV_CHAIN_USERS", c.MaxIVChainUsers)
	c.ComplexityLimit = env.Int("LSR_COMPLEXITY_LIMIT", c.ComplexityLimit)
	c.MaxReassociateDepth = env.Int("LSR_MAX_REASSOCIATE_DEPTH", c.MaxReassociateDepth)
	if env.Has("LSR_ENABLE_CHAINS") {
		c.EnableChains = env.Bool("LSR_ENABLE_CHAINS")
	}
	if env.Has("LSR_ENABLE_PHI_ELIM") {
		c.EnablePhiElim = env.Bool("LSR_ENABLE_PHI_ELIM")
	}
	c.StressIVChain = env.Bool("LSR_STRESS_IV_CHAIN")
	return c
}
