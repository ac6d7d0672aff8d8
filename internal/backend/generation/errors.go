package generation

import "errors"

var ErrValidation = errors.New("invalid generation request")
