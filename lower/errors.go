package lower

import (
	"fmt"
	"go/token"

	"github.com/pkg/errors"
)

// ErrNoBody is returned for functions without SSA blocks, such as external
// functions or packages that were not built.
var ErrNoBody = errors.New("function has no body")

// UnsupportedError is the error for a construct that has no ir equivalent.
type UnsupportedError struct {
	Pos  token.Position // Invalid when the construct has no position.
	Func string
	What string
}

func (e *UnsupportedError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s: cannot lower %s", e.Pos, e.Func, e.What)
	}
	return fmt.Sprintf("%s: cannot lower %s", e.Func, e.What)
}
