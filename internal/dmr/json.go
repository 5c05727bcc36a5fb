package dmr

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MarshalJSON renders the value as JSON. Object key order is preserved,
// matching spec.md §3's ordering invariant; bytes are base64-encoded.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) writeJSON(buf *bytes.Buffer) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	switch v.kind {
	case KindUndefined:
		buf.WriteString("null")
	case KindBool:
		if v.boolVal {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt:
		fmt.Fprintf(buf, "%d", v.intVal)
	case KindLong:
		fmt.Fprintf(buf, "%d", v.longVal)
	case KindDouble:
		fmt.Fprintf(buf, "%g", v.doubleVal)
	case KindString:
		encoded, err := json.Marshal(v.stringVal)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case KindBytes:
		encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(v.bytesVal))
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.listVal {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, e := range v.objVal {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(e.key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := e.value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("dmr: unknown kind %v", v.kind)
	}
	return nil
}

// UnmarshalJSON decodes JSON into a Value, preserving object key order via
// json.Decoder's token stream rather than decoding into a map[string]any.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeJSONValue(dec)
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}

// ParseJSON decodes a standalone JSON document into a Value.
func ParseJSON(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return decodeJSONValue(dec)
}

func decodeJSONValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeJSONToken(dec, tok)
}

func decodeJSONToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	switch t := tok.(type) {
	case nil:
		return Undefined(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			if i >= -(1<<31) && i < (1<<31) {
				return Int(int32(i)), nil
			}
			return Long(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return Double(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			out := List()
			for dec.More() {
				item, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				out.Add(item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return out, nil
		case '{':
			out := Object()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("dmr: non-string object key %v", keyTok)
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				out.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("dmr: unexpected JSON token %v", tok)
}
