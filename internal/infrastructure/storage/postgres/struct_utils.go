package postgres

import (
	"reflect"
	"sync"
)

// DBColumns lists the "db" tagged columns of T, descending into embedded
// structs such as entity.FiscalDocument. Called once per repository.
//
//	cols := DBColumns[sale.Sale]()
//	// ["id", "active", "version", ..., "warehouse_id", "customer_id", ...]
func DBColumns[T any]() []string {
	var zero T
	meta := metadataOf(reflect.TypeOf(zero))
	return meta.columns()
}

type columnField struct {
	index int
	name  string
}

type structMeta struct {
	fields   []columnField
	embedded []int
	typ      reflect.Type
}

func (m *structMeta) columns() []string {
	if m == nil {
		return nil
	}
	cols := make([]string, 0, len(m.fields))
	for _, idx := range m.embedded {
		cols = append(cols, metadataOf(m.typ.Field(idx).Type).columns()...)
	}
	for _, f := range m.fields {
		cols = append(cols, f.name)
	}
	return cols
}

var metaCache sync.Map // reflect.Type -> *structMeta

func metadataOf(t reflect.Type) *structMeta {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := metaCache.Load(t); ok {
		return cached.(*structMeta)
	}

	meta := &structMeta{typ: t}
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.Anonymous {
				meta.embedded = append(meta.embedded, i)
				continue
			}
			tag := field.Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}
			meta.fields = append(meta.fields, columnField{index: i, name: tag})
		}
	}
	metaCache.Store(t, meta)
	return meta
}

// ColumnValues maps the "db" tagged fields of v to their values.
// Fields tagged "-" (document lines, for instance) are skipped.
func ColumnValues(v any) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	meta := metadataOf(rv.Type())
	out := make(map[string]any, len(meta.fields))
	for _, idx := range meta.embedded {
		for k, val := range ColumnValues(rv.Field(idx).Interface()) {
			out[k] = val
		}
	}
	for _, f := range meta.fields {
		out[f.name] = rv.Field(f.index).Interface()
	}
	return out
}
