// Package loop provides natural loop discovery for ir functions.
//
// Loops are found from back edges (an edge whose target dominates its source)
// and the body of each loop is the set of blocks that reach the back edge
// without passing through the header. Loops sharing a header are merged, and
// nesting is derived from block containment.
//
// A loop is in simplified form when it has a preheader, a single latch and
// dedicated exit blocks. The loop optimisations of this module only
// transform simplified, innermost loops.
package loop
