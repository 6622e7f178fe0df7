package activity

import "errors"

var ErrUnknownCategory = errors.New("unknown activity category")
