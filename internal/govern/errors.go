package govern

import (
	"errors"
	"fmt"

	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/internal/ledger"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrAlreadyExists   = entity.ErrAlreadyExists
	ErrAlreadyReviewed = entity.ErrAlreadyReviewed
	ErrActorMissing    = ledger.ErrActorMissing
)

func subjectNotFound(table, id string, err error) error {
	if errors.Is(err, entity.ErrNotFound) || errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrSubjectNotFound, table, id)
	}
	return err
}
