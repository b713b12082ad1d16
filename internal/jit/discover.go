package jit

import (
	"reflect"
)

// TypeDiscoverer lists the runtime types a kernel value carries.
type TypeDiscoverer interface {
	Discover(kernel any) []reflect.Type
}

// ReflectDiscoverer walks a kernel value with reflect. It follows pointers,
// interfaces, slices, arrays and struct fields, records the dynamic type of
// every reference value it meets, and does not descend into value-typed
// fields. Slices of kernels are walked element by element.
type ReflectDiscoverer struct{}

func (ReflectDiscoverer) Discover(kernel any) []reflect.Type {
	var (
		out   []reflect.Type
		seen  = make(map[reflect.Type]bool)
		ptrs  = make(map[uintptr]bool)
		stack = []reflect.Value{reflect.ValueOf(kernel)}
	)
	record := func(t reflect.Type) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !v.IsValid() {
			continue
		}
		switch v.Kind() {
		case reflect.Interface:
			if !v.IsNil() {
				stack = append(stack, v.Elem())
			}
		case reflect.Pointer:
			if v.IsNil() || ptrs[v.Pointer()] {
				continue
			}
			ptrs[v.Pointer()] = true
			record(v.Type())
			if e := v.Elem(); e.Kind() == reflect.Struct {
				stack = pushFields(stack, e)
			}
		case reflect.Slice:
			if v.IsNil() {
				continue
			}
			// A slice of interfaces is a list of kernels, not data.
			if v.Type().Elem().Kind() != reflect.Interface {
				record(v.Type())
			}
			if isReference(v.Type().Elem().Kind()) {
				for i := v.Len() - 1; i >= 0; i-- {
					stack = append(stack, v.Index(i))
				}
			}
		case reflect.Struct:
			record(v.Type())
			stack = pushFields(stack, v)
		default:
			record(v.Type())
		}
	}
	return out
}

// pushFields queues the reference-typed fields of struct s, last field
// first, so fields are visited in declaration order.
func pushFields(stack []reflect.Value, s reflect.Value) []reflect.Value {
	for i := s.NumField() - 1; i >= 0; i-- {
		f := s.Field(i)
		if isReference(f.Kind()) {
			stack = append(stack, f)
		}
	}
	return stack
}

func isReference(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Slice:
		return true
	}
	return false
}
