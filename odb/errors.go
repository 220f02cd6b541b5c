package odb

import "errors"

// ErrPatchConsumed indicates an attempt to merge a Patch
// that has already been merged into a Database.
var ErrPatchConsumed = errors.New("patch already merged")
