package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/open-apime/relay/internal/storage/model"
)

var ErrNotFound = model.ErrNotFound

var ErrLastAdmin = model.ErrLastAdmin

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return model.ErrDuplicate
	}
	return err
}
