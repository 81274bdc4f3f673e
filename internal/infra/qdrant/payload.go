package qdrant

import (
	"encoding/json"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

func toPayload(m map[string]any) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(m)+1)
	for k, v := range m {
		value, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload %q: %w", k, err)
		}
		payload[k] = value
	}
	return payload, nil
}

func toValue(v any) (*qdrant.Value, error) {
	switch val := v.(type) {
	case string:
		return qdrant.NewValueString(val), nil
	case float64:
		return qdrant.NewValueDouble(val), nil
	case int:
		return qdrant.NewValueInt(int64(val)), nil
	case int64:
		return qdrant.NewValueInt(val), nil
	case bool:
		return qdrant.NewValueBool(val), nil
	case []string:
		values := make([]*qdrant.Value, len(val))
		for i, s := range val {
			values[i] = qdrant.NewValueString(s)
		}
		return qdrant.NewValueList(&qdrant.ListValue{Values: values}), nil
	default:
		// それ以外は JSON 文字列として保存する
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return qdrant.NewValueString(string(data)), nil
	}
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	m := make(map[string]any, len(payload))
	for k, v := range payload {
		m[k] = fromValue(v)
	}
	return m
}

func fromValue(v *qdrant.Value) any {
	switch v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return v.GetStringValue()
	case *qdrant.Value_DoubleValue:
		return v.GetDoubleValue()
	case *qdrant.Value_IntegerValue:
		return v.GetIntegerValue()
	case *qdrant.Value_BoolValue:
		return v.GetBoolValue()
	case *qdrant.Value_ListValue:
		list := v.GetListValue()
		result := make([]any, len(list.GetValues()))
		for i, item := range list.GetValues() {
			result[i] = fromValue(item)
		}
		return result
	default:
		return nil
	}
}
