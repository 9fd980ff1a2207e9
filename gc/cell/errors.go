package cell

import "errors"

// ErrBadKind indicates a cell kind outside [0, NumKinds).
var ErrBadKind = errors.New("cell: bad kind")
