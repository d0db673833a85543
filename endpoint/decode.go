package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit bounds the byte length of any decoded value unless the
// field carries a maxLength tag.
const defaultFieldLimit = 16 * 1024

// tagSources lists the supported struct tags in precedence order.
var tagSources = []string{"path", "query"}

// Unmarshal populates dst, a non-nil pointer to a struct, from r.
//
// Supported tags on string fields (first present source wins, in this order):
//
//	`path:"name"`    r.PathValue(name)
//	`query:"name"`   first value of r.URL.Query()[name]
//
// `maxLength:"n"` limits the value length (default 16KB, "0" for no limit).
// A tag name of "-" skips the field. A missing value leaves the field as is.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	sv := v.Elem()
	if sv.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	t := sv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		for _, src := range tagSources {
			name, ok := sf.Tag.Lookup(src)
			if !ok {
				continue
			}
			if name == "-" {
				break
			}
			if sf.Type.Kind() != reflect.String {
				return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: unsupported kind %s", sf.Name, sf.Type.Kind()))
			}
			limit, err := fieldLimit(sf)
			if err != nil {
				return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
			}
			if name == "" {
				name = strings.ToLower(sf.Name)
			}
			val, found := lookup(r, src, name)
			if !found {
				continue
			}
			if limit > 0 && len(val) > limit {
				return Error(http.StatusBadRequest, fmt.Sprintf("%s %q too long", src, name), nil)
			}
			sv.Field(i).SetString(val)
			break
		}
	}
	return nil
}

func fieldLimit(sf reflect.StructField) (int, error) {
	val, ok := sf.Tag.Lookup("maxLength")
	if !ok {
		return defaultFieldLimit, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("maxLength: invalid value %q", val)
	}
	return n, nil
}

func lookup(r *http.Request, src, name string) (string, bool) {
	switch src {
	case "path":
		if v := r.PathValue(name); v != "" {
			return v, true
		}
	case "query":
		if r.URL != nil {
			if vs := r.URL.Query()[name]; len(vs) > 0 {
				return vs[0], true
			}
		}
	}
	return "", false
}
