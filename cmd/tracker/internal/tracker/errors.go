package tracker

import (
	"errors"
	"fmt"
)

// ErrSymbolNotFound is matched by every SymbolNotFoundError via errors.Is.
var ErrSymbolNotFound = errors.New("symbol not found")

// SymbolNotFoundError is the only switch failure shown to the session.
type SymbolNotFoundError struct {
	Symbol string
	Err    error
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("Symbol [%s] not found", e.Symbol)
}

func (e *SymbolNotFoundError) Is(target error) bool { return target == ErrSymbolNotFound }

func (e *SymbolNotFoundError) Unwrap() error { return e.Err }
