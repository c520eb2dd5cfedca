package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// FormatConfigErrors flattens validator errors into a single error naming the
// offending env keys, so a bad deployment fails fast with a readable message.
func FormatConfigErrors(logger *zap.Logger, err error, cfg interface{}) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	var missing []string
	for _, fieldErr := range validationErrors {
		missing = append(missing, fmt.Sprintf("%s (%s)", fieldErr.Field(), fieldErr.Tag()))
		logger.Error("invalid config field",
			zap.String("field", fieldErr.Field()),
			zap.String("rule", fieldErr.Tag()),
		)
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(missing, ", "))
}
