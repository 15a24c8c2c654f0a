package fn

import "errors"

var errNilErr = errors.New("fn: failed result without error")
