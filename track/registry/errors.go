package registry

import "errors"

var (
	// ErrBrokenChain indicates a link that does not point back at its neighbor.
	ErrBrokenChain = errors.New("registry: broken link in block chain")

	// ErrLengthMismatch indicates the stored length disagrees with the chain.
	ErrLengthMismatch = errors.New("registry: length does not match chain")

	// ErrBadBounds indicates first/last do not name the chain ends.
	ErrBadBounds = errors.New("registry: first/last do not match chain ends")

	// ErrDuplicateAddr indicates two records carry the same non-zero address.
	ErrDuplicateAddr = errors.New("registry: address tracked twice")
)
