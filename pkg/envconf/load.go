// Package envconf loads configuration structs from environment variables.
package envconf

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"
)

var (
	ErrMissingRequired = errors.New("missing required environment variable")
	ErrUnsupportedType = errors.New("unsupported field type")
	ErrInvalidTarget   = errors.New("destination must be a non-nil pointer to a struct")
)

// FieldError ties a failure to the variable and the struct field it came from.
type FieldError struct {
	Var   string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s (field %s): %v", e.Var, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Load fills dst from the environment. A field tagged `env:"NAME"` is
// required unless it also carries a `default:"..."` tag; an empty default
// keeps the zero value. Untagged struct and pointer-to-struct fields are
// loaded recursively.
//
// Every problem is reported, joined into one error of *FieldError values.
func Load(dst any) error {
	v := reflect.ValueOf(dst)
	if dst == nil || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrInvalidTarget
	}

	var errs []error

	walk(v.Elem(), "", &errs)

	return errors.Join(errs...)
}

func walk(v reflect.Value, prefix string, errs *[]error) {
	t := v.Type()

	for i := range v.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		fv := v.Field(i)
		name := prefix + sf.Name
		tag := sf.Tag.Get("env")

		if tag == "" || tag == "-" {
			nested(fv, sf.Type, name, errs)

			continue
		}

		raw, ok := lookup(tag, sf.Tag)
		if !ok {
			*errs = append(*errs, &FieldError{Var: tag, Field: name, Err: ErrMissingRequired})

			continue
		}

		if raw == "" {
			continue
		}

		err := setValue(fv, raw)
		if err != nil {
			*errs = append(*errs, &FieldError{Var: tag, Field: name, Err: err})
		}
	}
}

func nested(fv reflect.Value, ft reflect.Type, name string, errs *[]error) {
	switch {
	case fv.Kind() == reflect.Struct && ft != durationType:
		walk(fv, name+".", errs)
	case fv.Kind() == reflect.Pointer && ft.Elem().Kind() == reflect.Struct:
		if fv.IsNil() {
			fv.Set(reflect.New(ft.Elem()))
		}

		walk(fv.Elem(), name+".", errs)
	}
}

// lookup returns the variable, or its default when unset. ok is false for a
// required variable that is not set.
func lookup(name string, tag reflect.StructTag) (string, bool) {
	raw, ok := os.LookupEnv(name)
	if ok {
		return raw, true
	}

	return tag.Lookup("default")
}

var durationType = reflect.TypeOf(time.Duration(0))
