// Package address implements the ordered path address used to locate
// nodes in the model tree and in the registration trie.
package address

import (
	"fmt"
	"strings"

	"github.com/r3e-network/mgmtctl/internal/dmr"
)

// Element is one (key, value) segment of a PathAddress, e.g. ("subsystem",
// "web").
type Element struct {
	Key   string
	Value string
}

func (e Element) String() string { return fmt.Sprintf("%s=%s", e.Key, e.Value) }

// Address is an immutable ordered sequence of Elements. The empty address
// denotes the root of the model tree.
type Address struct {
	elems []Element
}

// New builds an Address from a sequence of elements, copying its input so
// the result is independent of the caller's slice.
func New(elems ...Element) Address {
	out := make([]Element, len(elems))
	copy(out, elems)
	return Address{elems: out}
}

// Root is the empty address.
func Root() Address { return Address{} }

// FromValue parses a structured-value list of (key,value) pairs, the wire
// representation an operation's "address" field carries, into an Address.
// Each list entry must be a one-key object {key: value}.
func FromValue(v *dmr.Value) (Address, error) {
	if v == nil || v.Kind() == dmr.KindUndefined {
		return Root(), nil
	}
	if v.Kind() != dmr.KindList {
		return Address{}, fmt.Errorf("address: expected list, got %s", v.Kind())
	}
	elems := make([]Element, 0, len(v.AsList()))
	for _, item := range v.AsList() {
		keys := item.Keys()
		if len(keys) != 1 {
			return Address{}, fmt.Errorf("address: element must have exactly one key, got %d", len(keys))
		}
		key := keys[0]
		elems = append(elems, Element{Key: key, Value: item.Get(key).AsString()})
	}
	return Address{elems: elems}, nil
}

// ToValue renders the address back into its structured-value list form.
func (a Address) ToValue() *dmr.Value {
	out := dmr.List()
	for _, e := range a.elems {
		entry := dmr.Object()
		entry.Set(e.Key, dmr.String(e.Value))
		out.Add(entry)
	}
	return out
}

// Len returns the number of elements in the address.
func (a Address) Len() int { return len(a.elems) }

// Elements returns the address's elements. The returned slice must not be
// mutated by the caller.
func (a Address) Elements() []Element { return a.elems }

// At returns the i'th element.
func (a Address) At(i int) Element { return a.elems[i] }

// Last returns the final element and true, or the zero Element and false
// for the root address.
func (a Address) Last() (Element, bool) {
	if len(a.elems) == 0 {
		return Element{}, false
	}
	return a.elems[len(a.elems)-1], true
}

// Parent returns the address without its last element.
func (a Address) Parent() Address {
	if len(a.elems) == 0 {
		return a
	}
	return a.SubAddress(0, len(a.elems)-1)
}

// Child appends an element, returning a new address.
func (a Address) Child(e Element) Address {
	out := make([]Element, len(a.elems)+1)
	copy(out, a.elems)
	out[len(a.elems)] = e
	return Address{elems: out}
}

// SubAddress returns the half-open slice [n:m) as a new, independent
// Address.
func (a Address) SubAddress(n, m int) Address {
	out := make([]Element, m-n)
	copy(out, a.elems[n:m])
	return Address{elems: out}
}

// RelativeTo returns the suffix of a lying beyond prefix, assuming prefix
// is a prefix of a. Used to rebase an address at a proxy anchor.
func (a Address) RelativeTo(prefix Address) Address {
	return a.SubAddress(prefix.Len(), a.Len())
}

// HasPrefix reports whether prefix is a prefix of a, element-wise.
func (a Address) HasPrefix(prefix Address) bool {
	if prefix.Len() > a.Len() {
		return false
	}
	for i, e := range prefix.elems {
		if a.elems[i] != e {
			return false
		}
	}
	return true
}

// Equals reports element-wise equality.
func (a Address) Equals(other Address) bool {
	if len(a.elems) != len(other.elems) {
		return false
	}
	for i, e := range a.elems {
		if e != other.elems[i] {
			return false
		}
	}
	return true
}

// String renders the address as "key1=value1/key2=value2", or "/" for the
// root. Intended for logging and diagnostics, not wire transport.
func (a Address) String() string {
	if len(a.elems) == 0 {
		return "/"
	}
	parts := make([]string, len(a.elems))
	for i, e := range a.elems {
		parts[i] = e.String()
	}
	return strings.Join(parts, "/")
}
