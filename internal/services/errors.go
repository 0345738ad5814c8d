package services

import "errors"

// ErrValidation marks malformed caller input (non-positive duration, bad user
// count). Handlers map it to a 400 response.
var ErrValidation = errors.New("validation error")
