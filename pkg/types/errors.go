package types

import "errors"

var ErrMalformedEnvelope = errors.New("malformed event envelope")
