package nr

import (
    "errors"

    "github.com/numanode/go-nr/pkg/oplog"
    "github.com/numanode/go-nr/pkg/replica"
)

// Engine-level error taxonomy. ErrLogFull is transient: the batch could
// not be committed even after the combiner forced local reclamation, and
// the caller may retry. ErrRegistrationExhausted and ErrUnknownReplica are
// structural and never retried. Failures produced by the data structure
// itself are not errors at this level; they travel inside Result.Err.
var (
    ErrLogFull               = oplog.ErrLogFull
    ErrRegistrationExhausted = replica.ErrRegistrationExhausted
    ErrInvalidToken          = replica.ErrInvalidToken
    ErrUnknownReplica        = errors.New("nr: unknown replica")
)
