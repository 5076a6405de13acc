package commons

import "errors"

var ErrRecordNotFound = errors.New("Record not found")
var ErrUnauthorizedSource = errors.New("Source is not authorized")
