// Copyright 2022 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package https

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

const (
	longType         = "type.googleapis.com/google.protobuf.Int64Value"
	unsignedLongType = "type.googleapis.com/google.protobuf.UInt64Value"
)

// EncodingError is returned when a value cannot be represented in the callable wire format.
type EncodingError struct {
	Value interface{}
	msg   string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("data cannot be encoded in JSON: %s", e.msg)
}

// DecodingError is returned when a wire value cannot be decoded.
type DecodingError struct {
	Value interface{}
	msg   string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("data cannot be decoded from JSON: %s", e.msg)
}

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

// Encode converts a handler result into the callable wire format.
//
// Nil values encode to nil. Finite numbers, booleans and strings encode to themselves, slices
// and arrays element-wise, and maps with string or integer keys key-wise. Structs and
// json.Marshaler values encode to their JSON object form. Non-finite numbers, channels,
// functions and complex numbers cannot be encoded and yield an *EncodingError.
func Encode(v interface{}) (interface{}, error) {
	return encode(reflect.ValueOf(v))
}

func encode(rv reflect.Value) (interface{}, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
	}
	if rv.Kind() != reflect.Interface && rv.Type().Implements(marshalerType) {
		return encodeJSON(rv)
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		return encode(rv.Elem())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Interface(), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &EncodingError{Value: rv.Interface(), msg: fmt.Sprintf("non-finite number %v", f)}
		}
		return rv.Interface(), nil
	case reflect.String:
		if n, ok := rv.Interface().(json.Number); ok {
			return n, nil
		}
		return rv.String(), nil
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			v, err := encode(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := mapKey(iter.Key())
			if err != nil {
				return nil, err
			}
			v, err := encode(iter.Value())
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case reflect.Struct:
		return encodeJSON(rv)
	}
	return nil, &EncodingError{Value: rv.Interface(), msg: fmt.Sprintf("unsupported type %s", rv.Type())}
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", &EncodingError{Value: k.Interface(), msg: fmt.Sprintf("unsupported map key type %s", k.Type())}
}

// encodeJSON encodes a struct or json.Marshaler through its JSON representation.
func encodeJSON(rv reflect.Value) (interface{}, error) {
	b, err := json.Marshal(rv.Interface())
	if err != nil {
		return nil, &EncodingError{Value: rv.Interface(), msg: err.Error()}
	}
	var v interface{}
	if err := unmarshalNumbers(b, &v); err != nil {
		return nil, &EncodingError{Value: rv.Interface(), msg: err.Error()}
	}
	return v, nil
}

// Decode converts a value received in the callable wire format into plain Go values.
//
// Objects tagged with the Int64Value or UInt64Value @type decode to a float64 parsed from
// their value field. Any other @type yields a *DecodingError. Arrays and objects are decoded
// element-wise and everything else is returned unchanged.
func Decode(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			d, err := Decode(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case map[string]interface{}:
		if typ, ok := t["@type"]; ok && truthy(typ) {
			return decodeTyped(t, typ)
		}
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			d, err := Decode(e)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil
	}
	return v, nil
}

func decodeTyped(obj map[string]interface{}, typ interface{}) (interface{}, error) {
	if typ != longType && typ != unsignedLongType {
		return nil, &DecodingError{Value: obj, msg: fmt.Sprintf("unsupported @type %v", typ)}
	}
	raw := fmt.Sprint(obj["value"])
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &DecodingError{Value: obj, msg: fmt.Sprintf("invalid %v value %q", typ, raw)}
	}
	return f, nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	}
	return true
}

// unmarshalNumbers unmarshals JSON keeping numbers as json.Number.
func unmarshalNumbers(b []byte, v interface{}) error {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	return d.Decode(v)
}
