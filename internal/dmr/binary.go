package dmr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Binary tag bytes. Stable across releases per spec.md §6.
const (
	tagUndefined byte = 0x00
	tagBool      byte = 0x01
	tagInt       byte = 0x02
	tagLong      byte = 0x03
	tagDouble    byte = 0x04
	tagString    byte = 0x05
	tagBytes     byte = 0x06
	tagList      byte = 0x07
	tagObject    byte = 0x08
)

// EncodeBinary writes the compact big-endian binary form described in
// spec.md §3/§4.5: a one-byte tag followed by a tag-specific payload.
// Strings and byte arrays are length-prefixed with a 4-byte big-endian
// count rather than null-terminated, since unlike wire-protocol header
// strings they may themselves contain NUL.
func (v *Value) EncodeBinary(w io.Writer) error {
	if v == nil {
		_, err := w.Write([]byte{tagUndefined})
		return err
	}
	switch v.kind {
	case KindUndefined:
		_, err := w.Write([]byte{tagUndefined})
		return err
	case KindBool:
		b := byte(0)
		if v.boolVal {
			b = 1
		}
		_, err := w.Write([]byte{tagBool, b})
		return err
	case KindInt:
		buf := make([]byte, 5)
		buf[0] = tagInt
		binary.BigEndian.PutUint32(buf[1:], uint32(v.intVal))
		_, err := w.Write(buf)
		return err
	case KindLong:
		buf := make([]byte, 9)
		buf[0] = tagLong
		binary.BigEndian.PutUint64(buf[1:], uint64(v.longVal))
		_, err := w.Write(buf)
		return err
	case KindDouble:
		buf := make([]byte, 9)
		buf[0] = tagDouble
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.doubleVal))
		_, err := w.Write(buf)
		return err
	case KindString:
		return writeTaggedBytes(w, tagString, []byte(v.stringVal))
	case KindBytes:
		return writeTaggedBytes(w, tagBytes, v.bytesVal)
	case KindList:
		if _, err := w.Write([]byte{tagList}); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(v.listVal))); err != nil {
			return err
		}
		for _, item := range v.listVal {
			if err := item.EncodeBinary(w); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		if _, err := w.Write([]byte{tagObject}); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(v.objVal))); err != nil {
			return err
		}
		for _, e := range v.objVal {
			if err := writeTaggedBytes(w, 0, []byte(e.key)); err != nil {
				return err
			}
			if err := e.value.EncodeBinary(w); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("dmr: unknown kind %v", v.kind)
}

func writeUint32(w io.Writer, n uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, n)
	_, err := w.Write(buf)
	return err
}

// writeTaggedBytes writes [tag?] + 4-byte length + payload. tag==0 means
// "no tag byte" (used for object keys, which are plain length-prefixed
// strings, not tagged values).
func writeTaggedBytes(w io.Writer, tag byte, payload []byte) error {
	if tag != 0 {
		if _, err := w.Write([]byte{tag}); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// DecodeBinary reads one value previously written by EncodeBinary.
func DecodeBinary(r io.Reader) (*Value, error) {
	tagBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, tagBuf); err != nil {
		return nil, err
	}
	switch tagBuf[0] {
	case tagUndefined:
		return Undefined(), nil
	case tagBool:
		b := make([]byte, 1)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		return Bool(b[0] != 0), nil
	case tagInt:
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return Int(int32(n)), nil
	case tagLong:
		n, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return Long(int64(n)), nil
	case tagDouble:
		n, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return Double(math.Float64frombits(n)), nil
	case tagString:
		b, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		return String(string(b)), nil
	case tagBytes:
		b, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		return Bytes(b), nil
	case tagList:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		out := List()
		for i := uint32(0); i < count; i++ {
			item, err := DecodeBinary(r)
			if err != nil {
				return nil, err
			}
			out.Add(item)
		}
		return out, nil
	case tagObject:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		out := Object()
		for i := uint32(0); i < count; i++ {
			keyBytes, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			val, err := DecodeBinary(r)
			if err != nil {
				return nil, err
			}
			out.Set(string(keyBytes), val)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dmr: unknown binary tag 0x%02x", tagBuf[0])
	}
}

func readUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

func readUint64(r io.Reader) (uint64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeBinaryBytes is a convenience wrapper returning the encoded bytes.
func (v *Value) EncodeBinaryBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.EncodeBinary(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
