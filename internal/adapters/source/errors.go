package source

import "errors"

// ErrSourceQuery fails a whole collection run. The next scheduled run may
// succeed.
var ErrSourceQuery = errors.New("source query failed")
