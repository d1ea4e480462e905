package binding

import (
	"errors"
	"sort"
	"strings"

	pkgerrors "codearena/pkg/errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ValidationError converts ozzo-validation errors into a ValidationFailed error with per-field details.
func ValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(err, pkgerrors.ValidationFailed)
	}
	fields := make([]string, 0, len(fieldErrs))
	for field := range fieldErrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	messages := make([]string, 0, len(fields))
	details := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		msg := fieldErrs[field].Error()
		messages = append(messages, field+": "+msg)
		details[field] = msg
	}
	return pkgerrors.New(pkgerrors.ValidationFailed).
		WithMessage(strings.Join(messages, "; ")).
		WithDetails(details)
}
