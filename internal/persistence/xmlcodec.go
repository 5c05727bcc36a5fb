package persistence

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/r3e-network/mgmtctl/internal/dmr"
)

// xmlNode is the wire shape both persister backends marshal a dmr.Value
// through (spec.md §6's "marshalAsXml"). dmr.Value's fields are
// unexported, so this mirrors its Kind/As*/Keys surface into a tree
// encoding/xml can walk directly, rather than teaching dmr itself about
// XML.
type xmlNode struct {
	XMLName xml.Name   `xml:"value"`
	Type    string     `xml:"type,attr"`
	Text    string     `xml:",chardata"`
	Entries []xmlEntry `xml:"entry,omitempty"`
	Items   []xmlNode  `xml:"item,omitempty"`
}

type xmlEntry struct {
	Key   string  `xml:"key,attr"`
	Value xmlNode `xml:"value"`
}

// EncodeXML writes model's XML rendition to w (spec.md §6's
// "marshalAsXml"), indented for human inspection the way a hand-edited
// domain.xml would be.
func EncodeXML(model *dmr.Value, w io.Writer) error {
	node := toXMLNode(model)
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(node); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}

// DecodeXML reads a document written by EncodeXML back into a dmr.Value.
func DecodeXML(r io.Reader) (*dmr.Value, error) {
	var node xmlNode
	if err := xml.NewDecoder(r).Decode(&node); err != nil {
		return nil, err
	}
	return fromXMLNode(node)
}

func toXMLNode(v *dmr.Value) xmlNode {
	switch v.Kind() {
	case dmr.KindUndefined:
		return xmlNode{Type: "undefined"}
	case dmr.KindBool:
		return xmlNode{Type: "bool", Text: strconv.FormatBool(v.AsBool())}
	case dmr.KindInt:
		return xmlNode{Type: "int", Text: strconv.FormatInt(int64(v.AsInt()), 10)}
	case dmr.KindLong:
		return xmlNode{Type: "long", Text: strconv.FormatInt(v.AsLong(), 10)}
	case dmr.KindDouble:
		return xmlNode{Type: "double", Text: strconv.FormatFloat(v.AsDouble(), 'g', -1, 64)}
	case dmr.KindString:
		return xmlNode{Type: "string", Text: v.AsString()}
	case dmr.KindBytes:
		return xmlNode{Type: "bytes", Text: base64.StdEncoding.EncodeToString(v.AsBytes())}
	case dmr.KindList:
		items := make([]xmlNode, 0, len(v.AsList()))
		for _, item := range v.AsList() {
			items = append(items, toXMLNode(item))
		}
		return xmlNode{Type: "list", Items: items}
	case dmr.KindObject:
		keys := v.Keys()
		entries := make([]xmlEntry, 0, len(keys))
		for _, key := range keys {
			entries = append(entries, xmlEntry{Key: key, Value: toXMLNode(v.Get(key))})
		}
		return xmlNode{Type: "object", Entries: entries}
	default:
		return xmlNode{Type: "undefined"}
	}
}

func fromXMLNode(n xmlNode) (*dmr.Value, error) {
	switch n.Type {
	case "", "undefined":
		return dmr.Undefined(), nil
	case "bool":
		b, err := strconv.ParseBool(n.Text)
		if err != nil {
			return nil, fmt.Errorf("persistence: bad bool %q: %w", n.Text, err)
		}
		return dmr.Bool(b), nil
	case "int":
		i, err := strconv.ParseInt(n.Text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("persistence: bad int %q: %w", n.Text, err)
		}
		return dmr.Int(int32(i)), nil
	case "long":
		i, err := strconv.ParseInt(n.Text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("persistence: bad long %q: %w", n.Text, err)
		}
		return dmr.Long(i), nil
	case "double":
		f, err := strconv.ParseFloat(n.Text, 64)
		if err != nil {
			return nil, fmt.Errorf("persistence: bad double %q: %w", n.Text, err)
		}
		return dmr.Double(f), nil
	case "string":
		return dmr.String(n.Text), nil
	case "bytes":
		b, err := base64.StdEncoding.DecodeString(n.Text)
		if err != nil {
			return nil, fmt.Errorf("persistence: bad bytes %q: %w", n.Text, err)
		}
		return dmr.Bytes(b), nil
	case "list":
		out := dmr.List()
		for _, item := range n.Items {
			child, err := fromXMLNode(item)
			if err != nil {
				return nil, err
			}
			out.Add(child)
		}
		return out, nil
	case "object":
		out := dmr.Object()
		for _, e := range n.Entries {
			child, err := fromXMLNode(e.Value)
			if err != nil {
				return nil, err
			}
			out.Set(e.Key, child)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("persistence: unknown XML value type %q", n.Type)
	}
}
