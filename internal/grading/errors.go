package grading

import (
	"classpulse/pkg/interfaces"
)

var (
	ErrProviderStatus  = interfaces.NewError(interfaces.ErrUpstreamFailure, "grading provider returned an error")
	ErrEmptyCompletion = interfaces.NewError(interfaces.ErrUpstreamFailure, "grading provider returned no choices")
	ErrInvalidGrade    = interfaces.NewError(interfaces.ErrUpstreamFailure, "grading provider returned an unparseable grade")
)
