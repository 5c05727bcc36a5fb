package address

import (
	"testing"

	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromValueAndToValueRoundTrip(t *testing.T) {
	list := dmr.List()
	e1 := dmr.Object()
	e1.Set("host", dmr.String("A"))
	list.Add(e1)
	e2 := dmr.Object()
	e2.Set("subsystem", dmr.String("web"))
	list.Add(e2)

	addr, err := FromValue(list)
	require.NoError(t, err)
	assert.Equal(t, 2, addr.Len())
	assert.Equal(t, Element{Key: "host", Value: "A"}, addr.At(0))
	assert.Equal(t, "host=A/subsystem=web", addr.String())

	back := addr.ToValue()
	assert.True(t, list.Equals(back))
}

func TestRootAddressIsEmpty(t *testing.T) {
	assert.Equal(t, 0, Root().Len())
	assert.Equal(t, "/", Root().String())

	addr, err := FromValue(dmr.Undefined())
	require.NoError(t, err)
	assert.Equal(t, 0, addr.Len())
}

func TestRelativeToRebasesUnderProxyAnchor(t *testing.T) {
	anchor := New(Element{Key: "host", Value: "A"})
	full := New(Element{Key: "host", Value: "A"}, Element{Key: "subsystem", Value: "web"})

	assert.True(t, full.HasPrefix(anchor))
	rel := full.RelativeTo(anchor)
	assert.Equal(t, New(Element{Key: "subsystem", Value: "web"}), rel)
}

func TestEqualsAndParentChild(t *testing.T) {
	a := New(Element{Key: "a", Value: "1"}, Element{Key: "b", Value: "2"})
	b := a.Child(Element{Key: "c", Value: "3"})
	assert.Equal(t, 3, b.Len())
	assert.True(t, b.Parent().Equals(a))
	assert.False(t, a.Equals(b))
}

func TestSubAddressIsIndependentCopy(t *testing.T) {
	a := New(Element{Key: "a", Value: "1"}, Element{Key: "b", Value: "2"}, Element{Key: "c", Value: "3"})
	sub := a.SubAddress(1, 3)
	assert.Equal(t, 2, sub.Len())
	assert.Equal(t, Element{Key: "b", Value: "2"}, sub.At(0))

	sub.Elements()[0] = Element{Key: "x", Value: "9"}
	assert.Equal(t, Element{Key: "b", Value: "2"}, a.At(1))
}
