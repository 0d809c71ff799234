package agent

import (
	"encoding/json"
	"reflect"

	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// textSetter is implemented by output parts that accept a bare string in place of an object.
type textSetter interface {
	SetFromText(s string)
}

var (
	textSetterType   = reflect.TypeOf((*textSetter)(nil)).Elem()
	dependenciesType = reflect.TypeOf(domain.Dependencies{})
)

// decodePayload decodes a parsed model reply into a typed output.
// Models drift between strings, lists and objects for the same field, so the
// decoder converts between them where the meaning is unambiguous.
func decodePayload(payload map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			textToStructHook,
			listToDependenciesHook,
			structuredToStringHook,
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(payload)
}

func textToStructHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Struct {
		return data, nil
	}
	if !reflect.PointerTo(to).Implements(textSetterType) {
		return data, nil
	}
	v := reflect.New(to)
	v.Interface().(textSetter).SetFromText(reflect.ValueOf(data).String())
	return v.Elem().Interface(), nil
}

func listToDependenciesHook(from, to reflect.Type, data any) (any, error) {
	if to != dependenciesType || from.Kind() != reflect.Slice {
		return data, nil
	}
	return map[string]any{"technical": data}, nil
}

func structuredToStringHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Map, reflect.Slice:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return data, nil
}

// requireAll returns the fields absent from payload.
func requireAll(payload map[string]any, fields ...string) []string {
	var missing []string
	for _, f := range fields {
		if _, ok := payload[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// requireNested checks fields inside an object valued key.
func requireNested(payload map[string]any, key string, fields ...string) []string {
	raw, ok := payload[key]
	if !ok {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return []string{key + " (object)"}
	}
	var missing []string
	for _, f := range requireAll(obj, fields...) {
		missing = append(missing, key+"."+f)
	}
	return missing
}

func has(payload map[string]any, key string) bool {
	_, ok := payload[key]
	return ok
}

func truncate[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
