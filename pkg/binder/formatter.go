package binder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/segmentio/encoding/json"
)

const (
	batchID  = "batch_id"
	date     = "date"
	mx       = "max"
	mn       = "min"
	oneof    = "oneof"
	required = "required"
)

func formatUnmarshalTypeError(err *json.UnmarshalTypeError) string {
	return fmt.Sprintf("%q should be of type %s", strings.Trim(err.Field, "."), err.Type)
}

func formatSchemaConversionError(err schema.ConversionError) string {
	return fmt.Sprintf("%q should be of type %s", err.Key, err.Type)
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case batchID:
		return fmt.Sprintf("%q should be a batch id like batch-2024-01-31-abcd1234", field)
	case date:
		return fmt.Sprintf("%q should be in the format of YYYY-MM-DD", field)
	case mx:
		return formatBound(err, "less")
	case mn:
		return formatBound(err, "greater")
	case oneof:
		valids := strings.Fields(err.Param())
		for i, v := range valids {
			valids[i] = fmt.Sprintf("%q", v)
		}
		return fmt.Sprintf("%q must be one of the following: %s", field, strings.Join(valids, ", "))
	case required:
		return fmt.Sprintf("%q is required", field)
	default:
		return fmt.Sprintf("%q is invalid (%s)", field, err.Tag())
	}
}

// formatBound words min and max failures: numbers are compared by value,
// strings and slices by length.
func formatBound(err validator.FieldError, direction string) string {
	field, param := err.Field(), err.Param()

	var unit string
	//exhaustive:ignore
	switch err.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%q must be %s than or equal to %s", field, direction, param)
	case reflect.Slice, reflect.Array:
		unit = "element"
	default:
		unit = "character"
	}
	if param != "1" {
		unit += "s"
	}
	return fmt.Sprintf("%q length must be %s than or equal to %s %s", field, direction, param, unit)
}
