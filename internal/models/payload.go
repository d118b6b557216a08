package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind 载荷字段值的类型标签
type ValueKind string

const (
	ValueNull   ValueKind = "null"
	ValueString ValueKind = "string"
	ValueNumber ValueKind = "number"
	ValueBool   ValueKind = "bool"
	ValueList   ValueKind = "list"
	ValueNested ValueKind = "nested" // 嵌套对象折叠为序列化字符串
)

// Value 任务载荷字段的封闭变体类型。
// 每种任务类型的表单数据最终都落在 string/number/bool/null/list 上，
// 嵌套对象在解析时折叠为其 JSON 字符串形式，浅层 diff 因此只需比较顶层键。
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []Value
}

// StringValue 构造字符串值
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// NumberValue 构造数值
func NumberValue(n float64) Value { return Value{Kind: ValueNumber, Num: n} }

// BoolValue 构造布尔值
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// NullValue 构造空值
func NullValue() Value { return Value{Kind: ValueNull} }

// ListValue 构造列表值
func ListValue(items ...Value) Value { return Value{Kind: ValueList, List: items} }

// MarshalJSON 按自然 JSON 形式输出，嵌套值输出其字符串形式。
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNull, "":
		return []byte("null"), nil
	case ValueString, ValueNested:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	default:
		return nil, fmt.Errorf("未知的载荷值类型: %s", v.Kind)
	}
}

// UnmarshalJSON 从任意 JSON 标量/数组/对象解析，对象折叠为字符串。
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromInterface(raw)
	return nil
}

// fromInterface 将解码后的 JSON 值归一到封闭变体。
func fromInterface(raw interface{}) Value {
	switch val := raw.(type) {
	case nil:
		return NullValue()
	case string:
		return StringValue(val)
	case bool:
		return BoolValue(val)
	case float64:
		return NumberValue(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return StringValue(val.String())
		}
		return NumberValue(f)
	case []interface{}:
		items := make([]Value, 0, len(val))
		for _, item := range val {
			items = append(items, fromInterface(item))
		}
		return Value{Kind: ValueList, List: items}
	case map[string]interface{}:
		// 嵌套对象按键排序后序列化，保证同一内容得到同一字符串
		b, err := marshalSorted(val)
		if err != nil {
			return StringValue(fmt.Sprintf("%v", val))
		}
		return Value{Kind: ValueNested, Str: string(b)}
	default:
		return StringValue(fmt.Sprintf("%v", val))
	}
}

// Display 渲染用于 diff 展示的字符串形式。
func (v Value) Display() string {
	switch v.Kind {
	case ValueNull, "":
		return ""
	case ValueString, ValueNested:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueList:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

// Payload 任务的按类型载荷信封。
type Payload struct {
	TaskType string           `json:"taskType,omitempty"`
	Fields   map[string]Value `json:"fields,omitempty"`
}

// Value 实现 driver.Valuer，作为 JSON 存入数据库。
func (p Payload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("序列化任务载荷失败: %w", err)
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner。
func (p *Payload) Scan(src interface{}) error {
	if src == nil {
		*p = Payload{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法从 %T 解析任务载荷", src)
	}
	if len(data) == 0 {
		*p = Payload{}
		return nil
	}
	return json.Unmarshal(data, p)
}

// GormDataType 指定列类型。
func (Payload) GormDataType() string {
	return "jsonb"
}

// marshalSorted 按键排序序列化 map，避免嵌套对象字符串形式抖动。
func marshalSorted(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := marshalValue(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func marshalValue(v interface{}) ([]byte, error) {
	if m, ok := v.(map[string]interface{}); ok {
		return marshalSorted(m)
	}
	return json.Marshal(v)
}
