package ws

import "errors"

// ErrUnknownSession indicates a frame was addressed to a client id with no
// live session. Sends to unknown sessions are logged no-ops at the registry
// boundary; this error surfaces only to callers that need to distinguish.
var ErrUnknownSession = errors.New("unknown session")
