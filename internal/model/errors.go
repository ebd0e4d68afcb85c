package model

import "kbetl/internal/kberr"

// ValidationError builds an InvalidArgument error naming the offending
// field, the shape every Validate method in this package returns.
func ValidationError(field, format string, args ...any) error {
	return kberr.Newf(kberr.InvalidArgument, field+": "+format, args...)
}
