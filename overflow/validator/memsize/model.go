package memsize

import (
	"reflect"
	"sync"
)

// Fixed costs of runtime headers on the current platform.
var (
	wordSize     = int64(reflect.TypeFor[uintptr]().Size())
	stringHeader = int64(reflect.TypeFor[string]().Size())
	sliceHeader  = int64(reflect.TypeFor[[]byte]().Size())
	ifaceHeader  = int64(reflect.TypeFor[any]().Size())
)

// mapHeader approximates the runtime map header plus its first group.
const mapHeader = 48

// SizeFunc returns the size in bytes of v.
type SizeFunc func(v any) int64

// Model estimates the in-memory footprint of values. Overrides registered by
// type name (reflect.Type.String, e.g. "main.Blob" or "*main.Blob") are
// consulted first; anything else is sized structurally:
// primitives cost their width, strings/slices/maps their header plus their
// elements, pointers and interfaces their word plus what they point to, and
// structs the sum of their fields. A type already being sized further up the
// walk is counted as a bare word, which breaks cycles.
//
// The zero value is ready to use and safe for concurrent use.
type Model struct {
	mu    sync.RWMutex
	sizes map[string]int64
	funcs map[string]SizeFunc
}

// NewModel returns an empty model.
func NewModel() *Model { return &Model{} }

// SetSize makes every value of the named type cost exactly n bytes.
func (m *Model) SetSize(typeName string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sizes == nil {
		m.sizes = make(map[string]int64)
	}
	m.sizes[typeName] = n
}

// SetFunc sizes values of the named type with fn.
func (m *Model) SetFunc(typeName string, fn SizeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.funcs == nil {
		m.funcs = make(map[string]SizeFunc)
	}
	m.funcs[typeName] = fn
}

// Sizeof estimates the size of v in bytes. nil costs 0.
func (m *Model) Sizeof(v any) int64 {
	if v == nil {
		return 0
	}
	w := walker{m: m}
	return w.size(reflect.ValueOf(v))
}

func (m *Model) override(v reflect.Value) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.sizes) == 0 && len(m.funcs) == 0 {
		return 0, false
	}
	name := v.Type().String()
	if n, ok := m.sizes[name]; ok {
		return n, true
	}
	if fn, ok := m.funcs[name]; ok && v.CanInterface() {
		return fn(v.Interface()), true
	}
	return 0, false
}

type walker struct {
	m     *Model
	stack []reflect.Type
}

func (w *walker) visiting(t reflect.Type) bool {
	for _, s := range w.stack {
		if s == t {
			return true
		}
	}
	return false
}

func (w *walker) size(v reflect.Value) int64 {
	if !v.IsValid() {
		return 0
	}
	if n, ok := w.m.override(v); ok {
		return n
	}
	t := v.Type()
	if w.visiting(t) {
		return wordSize
	}
	w.stack = append(w.stack, t)
	defer func() { w.stack = w.stack[:len(w.stack)-1] }()

	switch v.Kind() {
	case reflect.String:
		return stringHeader + int64(v.Len())

	case reflect.Slice:
		if v.IsNil() {
			return sliceHeader
		}
		return sliceHeader + w.elems(v, t.Elem())

	case reflect.Array:
		return w.elems(v, t.Elem())

	case reflect.Map:
		if v.IsNil() {
			return wordSize
		}
		n := wordSize + mapHeader
		it := v.MapRange()
		for it.Next() {
			n += w.size(it.Key()) + w.size(it.Value())
		}
		return n

	case reflect.Pointer:
		if v.IsNil() {
			return wordSize
		}
		return wordSize + w.size(v.Elem())

	case reflect.Interface:
		if v.IsNil() {
			return ifaceHeader
		}
		return ifaceHeader + w.size(v.Elem())

	case reflect.Struct:
		var n int64
		for i := range v.NumField() {
			n += w.size(v.Field(i))
		}
		// padding between fields
		return max(n, int64(t.Size()))

	default:
		// bool, numbers, chan, func, unsafe.Pointer
		return int64(t.Size())
	}
}

// elems sizes the elements of a slice or array. Fixed-width element types
// are priced without visiting every element.
func (w *walker) elems(v reflect.Value, et reflect.Type) int64 {
	if flat(et) && !w.hasOverride(et) {
		return int64(v.Len()) * int64(et.Size())
	}
	var n int64
	for i := range v.Len() {
		n += w.size(v.Index(i))
	}
	return n
}

func (w *walker) hasOverride(t reflect.Type) bool {
	w.m.mu.RLock()
	defer w.m.mu.RUnlock()
	name := t.String()
	_, a := w.m.sizes[name]
	_, b := w.m.funcs[name]
	return a || b
}

// flat reports whether values of t own no memory beyond t.Size().
func flat(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return flat(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if !flat(t.Field(i).Type) {
				return false
			}
		}
		return true
	}
	return false
}
