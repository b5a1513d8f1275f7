// Package failfast panics on programming errors that leave a component unable
// to make progress, such as an empty pool or a nil handler.
package failfast

import (
	"fmt"
	"reflect"
)

// Positive panics if n <= 0. Used for sizes that can never make progress at zero.
func Positive(n int, name string) {
	if n <= 0 {
		panic(fmt.Errorf("fail-fast: %s must be positive, got %d", name, n))
	}
}

// NotNil panics if ptr is nil, including typed nil pointers, funcs, maps and chans.
func NotNil(ptr interface{}, name string) {
	if ptr == nil {
		panic(fmt.Errorf("fail-fast: %s is nil", name))
	}
	v := reflect.ValueOf(ptr)
	switch v.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface:
		if v.IsNil() {
			panic(fmt.Errorf("fail-fast: %s is nil", name))
		}
	}
}
