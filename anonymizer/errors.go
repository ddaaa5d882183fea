package anonymizer

import (
	"github.com/bwNetFlow/flowanon/anonymizer/hashstore"
	"github.com/pkg/errors"
)

// Errors returned by the Engine. All of them are fatal for a run, as
// continuing would leak an identifier that could not be substituted.
var (
	ErrPoolExhausted   = errors.New("class pool exhausted")
	ErrVendorExhausted = errors.New("ethernet vendor ids exhausted")
	ErrHostExhausted   = errors.New("ethernet host ids exhausted")
	ErrSyntax          = errors.New("syntax error")
	ErrUnknownKind     = errors.New("unknown identifier kind")
	ErrLength          = errors.New("identifier has wrong length")

	ErrDuplicateKey = hashstore.ErrDuplicateKey
)

func syntaxError(key string, value string) error {
	return errors.Wrapf(ErrSyntax, "%s=%q", key, value)
}
