package ledger

import "errors"

var (
	ErrActorMissing             = errors.New("actor_id is required")
	ErrMalformedFieldChange     = errors.New("FieldChange requires field and new value")
	ErrUnknownOperation         = errors.New("unknown ledger operation")
	ErrMissingSubject           = errors.New("subject_table and subject_id are required")
	ErrConcurrentAppendConflict = errors.New("concurrent append conflict: chain tail moved")
	ErrNotFound                 = errors.New("subject not found")
	ErrNonCanonicalText         = errors.New("text must be valid UTF-8 in NFC form")
	ErrChainExists              = errors.New("subject chain already started")
)
