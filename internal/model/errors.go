package model

import "errors"

var (
	// ErrInvalidRequest marks malformed key inputs. Raised before any I/O.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrCacheWriteFailed marks a Tier1/Tier2 write that could not complete.
	// It is a warning: the read path that triggered the write is unaffected.
	ErrCacheWriteFailed = errors.New("cache write failed")
	// ErrOriginFetchFailed marks a Tier3 failure, timeouts included.
	ErrOriginFetchFailed = errors.New("origin fetch failed")
)
