package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Field paths below use Go field names joined by dots, e.g. "Server.Workers".

// RequiredFields rejects configs where any of fields holds its zero value.
// All missing fields are reported together.
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		var missing []string
		for _, path := range fields {
			v, err := lookup(config, path)
			if err != nil {
				return err
			}
			if v.IsZero() {
				missing = append(missing, path)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator requires a numeric field to lie in [min, max].
func RangeValidator(path string, min, max float64) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, err := lookup(config, path)
		if err != nil {
			return err
		}
		var n float64
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = float64(v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n = float64(v.Uint())
		case reflect.Float32, reflect.Float64:
			n = v.Float()
		default:
			return fmt.Errorf("field %s is %s, not numeric", path, v.Kind())
		}
		if n < min || n > max {
			return fmt.Errorf("field %s = %v is out of range [%v, %v]", path, n, min, max)
		}
		return nil
	})
}

// PositiveDuration requires a Duration or time.Duration field to be above zero.
func PositiveDuration(path string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, err := lookup(config, path)
		if err != nil {
			return err
		}
		var d time.Duration
		switch x := v.Interface().(type) {
		case Duration:
			d = x.Std()
		case time.Duration:
			d = x
		default:
			return fmt.Errorf("field %s is %s, not a duration", path, v.Type())
		}
		if d <= 0 {
			return fmt.Errorf("field %s must be positive, got %s", path, d)
		}
		return nil
	})
}

// OneOfValidator requires a field to equal one of allowed.
func OneOfValidator(path string, allowed ...interface{}) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, err := lookup(config, path)
		if err != nil {
			return err
		}
		got := v.Interface()
		for _, a := range allowed {
			if reflect.DeepEqual(got, a) {
				return nil
			}
		}
		return fmt.Errorf("field %s = %v is not one of %v", path, got, allowed)
	})
}

// lookup resolves a dotted field path, following pointers. A nil pointer on
// the way yields the zero value of the target field.
func lookup(config interface{}, path string) (reflect.Value, error) {
	v := reflect.ValueOf(config)
	for _, name := range strings.Split(path, ".") {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v = reflect.New(v.Type().Elem()).Elem()
				break
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field %s: %s is not a struct", path, name)
		}
		v = v.FieldByName(name)
		if !v.IsValid() {
			return reflect.Value{}, fmt.Errorf("field %s not found in config", path)
		}
	}
	return v, nil
}
