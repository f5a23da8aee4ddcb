package loop

import (
	"errors"

	"github.com/nickng/lsr/ir"
)

var ErrEmptyStack = errors.New("error: empty stack")

// Stack is a stack of ir.Block used as a worklist.
type Stack struct {
	s []*ir.Block
}

// NewStack creates a new Stack.
func NewStack() *Stack {
	return &Stack{s: []*ir.Block{}}
}

// Push adds a new block to the top of stack.
func (s *Stack) Push(b *ir.Block) {
	s.s = append(s.s, b)
}

// Pop removes a block from top of stack.
func (s *Stack) Pop() (*ir.Block, error) {
	size := len(s.s)
	if size == 0 {
		return nil, ErrEmptyStack
	}
	b := s.s[size-1]
	s.s = s.s[:size-1]
	return b, nil
}

// IsEmpty returns true if stack is empty.
func (s *Stack) IsEmpty() bool {
	return len(s.s) == 0
}
