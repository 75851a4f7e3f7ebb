package crypto

import "errors"

var (
	ErrNonFiniteFloat  = errors.New("NaN and Inf values are not allowed")
	ErrNonStringMapKey = errors.New("map keys must be strings")
	ErrUnsupportedType = errors.New("unsupported type for canonicalization")
	ErrKeyCollision    = errors.New("normalized map key collision")
)
