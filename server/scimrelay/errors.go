package scimrelay

import "errors"

// NotFoundError is implemented by errors that indicate a missing resource.
type NotFoundError interface {
	error
	IsNotFound() bool
}

// IsNotFound reports whether err (or any error in its chain) indicates a
// missing resource.
func IsNotFound(err error) bool {
	var nfe NotFoundError
	if errors.As(err, &nfe) {
		return nfe.IsNotFound()
	}
	return false
}

// AlreadyExistsError is implemented by errors that indicate a uniqueness
// conflict.
type AlreadyExistsError interface {
	error
	IsExists() bool
}

// IsAlreadyExists reports whether err (or any error in its chain) indicates
// a uniqueness conflict.
func IsAlreadyExists(err error) bool {
	var ee AlreadyExistsError
	if errors.As(err, &ee) {
		return ee.IsExists()
	}
	return false
}
