package plan

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// planValidate checks payload struct tags.
var planValidate = validator.New()

// categoryTree wraps a tree so its nodes are validated.
type categoryTree struct {
	Categories []types.CategoryNode `validate:"dive"`
}

// detailRows wraps a replacement row set; row keys must be distinct.
type detailRows struct {
	Rows []types.DetailRow `validate:"unique=Key"`
}

// validateStruct runs tag validation on v and reports failures as
// ErrInvalidData.
func validateStruct(v any) error {
	if err := planValidate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	return nil
}
