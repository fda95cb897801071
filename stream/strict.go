package stream

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// field is one JSON key of a struct schema.
type field struct {
	key      string
	optional bool
	nested   reflect.Type
}

var schemaCache sync.Map // map[reflect.Type][]field

// unmarshalStrict decodes data into v and additionally fails when a
// required key is missing. A key is optional when its tag carries
// omitempty or the field is a pointer. Nested structs and slices of
// structs are checked recursively.
func unmarshalStrict(data []byte, v interface{}) error {
	t := reflect.TypeOf(v)
	if t == nil || t.Kind() != reflect.Ptr {
		return fmt.Errorf("unmarshal target must be a pointer, got %T", v)
	}
	if err := checkRequired(data, t.Elem()); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func checkRequired(data []byte, t reflect.Type) error {
	switch t.Kind() {
	case reflect.Struct:
		fields := schemaOf(t)
		if len(fields) == 0 {
			return nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj == nil {
			return fmt.Errorf("expected object, got null")
		}
		for _, f := range fields {
			raw, ok := obj[f.key]
			if !ok {
				if f.optional {
					continue
				}
				return fmt.Errorf("missing field %q", f.key)
			}
			if f.nested != nil {
				if err := checkRequired(raw, f.nested); err != nil {
					return fmt.Errorf("field %q: %w", f.key, err)
				}
			}
		}
		return nil
	case reflect.Slice:
		elem := t.Elem()
		if elem.Kind() != reflect.Struct || len(schemaOf(elem)) == 0 {
			return nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		for i, item := range items {
			if err := checkRequired(item, elem); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	default:
		return nil
	}
}

// schemaOf lists the JSON keys of a struct type. Types that decode
// themselves (json.Unmarshaler) have no schema of their own.
func schemaOf(t reflect.Type) []field {
	if cached, ok := schemaCache.Load(t); ok {
		return cached.([]field)
	}
	var fields []field
	if !reflect.PointerTo(t).Implements(unmarshalerType) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			tag := sf.Tag.Get("json")
			if tag == "-" {
				continue
			}
			name, opts, _ := strings.Cut(tag, ",")
			if name == "" {
				name = sf.Name
			}
			f := field{
				key:      name,
				optional: sf.Type.Kind() == reflect.Ptr || strings.Contains(opts, "omitempty"),
			}
			switch sf.Type.Kind() {
			case reflect.Struct, reflect.Slice:
				f.nested = sf.Type
			}
			fields = append(fields, f)
		}
	}
	schemaCache.Store(t, fields)
	return fields
}

var unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
