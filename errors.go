package linkcheck

import (
	"errors"

	"github.com/burugo/linkcheck/common"
)

// ErrNotFound is returned when a requested item (e.g., cache key, database record) is not found.
var ErrNotFound = common.ErrNotFound

// Additional package-level errors
var (
	ErrInvalidPage = errors.New("linkcheck: invalid page number, must be >= 1")
	// ErrInvalidPageSize is returned for page sizes below 1.
	ErrInvalidPageSize = errors.New("linkcheck: invalid page size, must be >= 1")
	ErrInvalidURL      = errors.New("linkcheck: invalid url")
	// ErrDuplicateURL indicates the owner already submitted the URL.
	ErrDuplicateURL  = errors.New("linkcheck: url already added for this user")
	ErrInvalidStatus = errors.New("linkcheck: invalid link status")
	ErrInvalidScore  = errors.New("linkcheck: credibility score must be between 0 and 100")
	ErrInvalidEmail  = errors.New("linkcheck: invalid email")
	// ErrEmailTaken is returned by Register for an email that already exists.
	ErrEmailTaken  = errors.New("linkcheck: email already registered")
	ErrStoreNotSet = errors.New("linkcheck: durable store not set")
)
