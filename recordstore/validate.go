package recordstore

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

var validate = validator.New()

// validateRecord checks a record's struct tags and reports the first
// violation as a SchemaError.
func validateRecord(source string, row int, record any) error {
	err := validate.Struct(record)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &models.SchemaError{
			Source: source,
			Row:    row,
			Column: fe.Field(),
			Reason: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
		}
	}
	return &models.SchemaError{Source: source, Row: row, Reason: err.Error()}
}
