package workflow

import (
	"fmt"
	"reflect"
	"sort"
)

// State is the shared record a graph run operates on. Nodes receive a deep
// copy and never observe writes from their siblings.
type State map[string]any

// Delta is the partial update a node returns. Absent keys are untouched.
type Delta map[string]any

// MergeStrategy decides how a delta value is combined with the current one.
type MergeStrategy int

const (
	// MergeReplace overwrites the current value.
	MergeReplace MergeStrategy = iota
	// MergeAppend appends a slice delta to the current slice.
	MergeAppend
)

func (m MergeStrategy) String() string {
	switch m {
	case MergeReplace:
		return "replace"
	case MergeAppend:
		return "append"
	default:
		return fmt.Sprintf("MergeStrategy(%d)", int(m))
	}
}

// Field declares one state field. Its declared type is Type when set,
// otherwise the dynamic type of Default. A field with neither is untyped
// and accepts any value.
type Field struct {
	Name    string
	Default any
	Type    reflect.Type
	Merge   MergeStrategy
}

func (f Field) declaredType() reflect.Type {
	if f.Type != nil {
		return f.Type
	}
	return reflect.TypeOf(f.Default)
}

// Schema is the fixed set of fields a graph's state may hold.
type Schema struct {
	fields map[string]Field
	order  []string
	dups   []string
}

// NewSchema builds a schema. Duplicate names are reported by GraphBuilder.Build.
func NewSchema(fields ...Field) Schema {
	s := Schema{fields: make(map[string]Field, len(fields))}
	return s.Extend(fields...)
}

// Extend returns a copy of s with the extra fields appended.
func (s Schema) Extend(fields ...Field) Schema {
	out := Schema{
		fields: make(map[string]Field, len(s.fields)+len(fields)),
		order:  append([]string(nil), s.order...),
		dups:   append([]string(nil), s.dups...),
	}
	for k, v := range s.fields {
		out.fields[k] = v
	}
	for _, f := range fields {
		if _, exists := out.fields[f.Name]; exists {
			out.dups = append(out.dups, f.Name)
			continue
		}
		out.fields[f.Name] = f
		out.order = append(out.order, f.Name)
	}
	return out
}

// Field returns the declaration for name.
func (s Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Has reports whether name is declared.
func (s Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Names returns field names in declaration order.
func (s Schema) Names() []string {
	return append([]string(nil), s.order...)
}

func (s Schema) validate() error {
	if len(s.dups) > 0 {
		return &GraphValidationError{Reason: fmt.Sprintf("duplicate state field %q", s.dups[0])}
	}
	for _, name := range s.order {
		f := s.fields[name]
		if name == "" {
			return &GraphValidationError{Reason: "state field with empty name"}
		}
		t := f.declaredType()
		if f.Merge == MergeAppend && t != nil && t.Kind() != reflect.Slice {
			return &GraphValidationError{Reason: fmt.Sprintf("append field %q has non-slice type %s", name, t)}
		}
		if f.Type != nil && f.Default != nil && reflect.TypeOf(f.Default) != f.Type {
			return &GraphValidationError{Reason: fmt.Sprintf("field %q default %T does not match type %s", name, f.Default, f.Type)}
		}
	}
	return nil
}

// Init creates the run state from schema defaults overlaid with initial.
func (s Schema) Init(initial map[string]any) (State, error) {
	state := make(State, len(s.fields))
	for _, name := range s.order {
		state[name] = cloneValue(s.fields[name].Default)
	}
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f, ok := s.fields[k]
		if !ok {
			return nil, &InitialStateError{Field: k, Reason: "not declared in schema"}
		}
		if err := f.check(initial[k]); err != nil {
			return nil, &InitialStateError{Field: k, Reason: err.Error()}
		}
		state[k] = cloneValue(initial[k])
	}
	return state, nil
}

// check verifies v has the declared type of f and can be merged into it.
// nil is accepted only where the declared type can hold it.
func (f Field) check(v any) error {
	t := f.declaredType()
	if v == nil {
		if t != nil && !nilable(t.Kind()) {
			return fmt.Errorf("expects %s, got nil", t)
		}
		return nil
	}
	vt := reflect.TypeOf(v)
	if f.Merge == MergeAppend && vt.Kind() != reflect.Slice {
		return fmt.Errorf("append field expects a slice, got %T", v)
	}
	switch {
	case t == nil:
	case t.Kind() == reflect.Interface:
		if !vt.Implements(t) {
			return fmt.Errorf("expects %s, got %T", t, v)
		}
	case vt != t:
		return fmt.Errorf("expects %s, got %T", t, v)
	}
	return nil
}

func nilable(k reflect.Kind) bool {
	switch k {
	case reflect.Slice, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// Merge applies delta to state in sorted key order.
func (s Schema) Merge(state State, delta Delta) error {
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f, ok := s.fields[k]
		if !ok {
			return fmt.Errorf("field %q not declared in schema", k)
		}
		v := cloneValue(delta[k])
		if f.Merge == MergeAppend {
			merged, err := appendValues(state[k], v)
			if err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
			state[k] = merged
			continue
		}
		state[k] = v
	}
	return nil
}

func appendValues(current, update any) (any, error) {
	if update == nil {
		return current, nil
	}
	uv := reflect.ValueOf(update)
	if uv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("cannot append %T", update)
	}
	if current == nil {
		return update, nil
	}
	cv := reflect.ValueOf(current)
	if cv.Type() != uv.Type() {
		return nil, fmt.Errorf("cannot append %T to %T", update, current)
	}
	out := reflect.MakeSlice(cv.Type(), 0, cv.Len()+uv.Len())
	out = reflect.AppendSlice(out, cv)
	out = reflect.AppendSlice(out, uv)
	return out.Interface(), nil
}

// Clone returns a deep copy of the state. Slices and maps are copied
// recursively; pointers are shared.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if v == nil {
		return nil
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		inner := cloneReflect(v.Elem())
		out := reflect.New(v.Type()).Elem()
		out.Set(inner)
		return out
	default:
		return v
	}
}

// Get returns the typed value of key.
func Get[T any](s State, key string) (T, bool) {
	var zero T
	v, ok := s[key]
	if !ok || v == nil {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// GetOr returns the typed value of key or def when absent or mistyped.
func GetOr[T any](s State, key string, def T) T {
	if v, ok := Get[T](s, key); ok {
		return v
	}
	return def
}
