package fsfs

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesEncodeDecodeRoundTrip(t *testing.T) {
	p := NewProperties()
	p.Set("svn:author", "alice")
	p.Set("svn:log", "first commit\nwith a newline")
	p.Set("custom:empty", "")

	var buf bytes.Buffer
	require.NoError(t, p.Encode(&buf))

	got, err := DecodeProperties(bufio.NewReader(&buf))
	require.NoError(t, err)

	assert.Equal(t, p.Keys(), got.Keys())
	for _, k := range p.Keys() {
		v, ok := got.Get(k)
		assert.True(t, ok)
		want, _ := p.Get(k)
		assert.Equal(t, want, v)
	}
}

func TestPropertiesSetPreservesPosition(t *testing.T) {
	p := NewProperties()
	p.Set("a", "1")
	p.Set("b", "2")
	p.Set("a", "3")
	assert.Equal(t, []string{"a", "b"}, p.Keys())
	v, _ := p.Get("a")
	assert.Equal(t, "3", v)
}

func TestPropertiesRemove(t *testing.T) {
	p := NewProperties()
	p.Set("a", "1")
	p.Set("b", "2")
	p.Remove("a")
	assert.Equal(t, []string{"b"}, p.Keys())
	_, ok := p.Get("a")
	assert.False(t, ok)
}

func TestPropertiesEqual(t *testing.T) {
	a := NewProperties()
	a.Set("x", "1")
	b := NewProperties()
	b.Set("x", "1")
	assert.True(t, a.Equal(b))

	b.Set("y", "2")
	assert.False(t, a.Equal(b))
}

func TestPropertiesDiff(t *testing.T) {
	prev := NewProperties()
	prev.Set("a", "1")
	prev.Set("b", "2")

	cur := NewProperties()
	cur.Set("a", "1")
	cur.Set("b", "3")
	cur.Set("c", "4")

	diff := prev.Diff(cur)
	assert.Equal(t, "3", diff["b"])
	assert.Equal(t, "4", diff["c"])
	_, changed := diff["a"]
	assert.False(t, changed)
}

func TestPropertiesDiffReportsRemovedKeys(t *testing.T) {
	prev := NewProperties()
	prev.Set("a", "1")
	cur := NewProperties()

	diff := prev.Diff(cur)
	v, ok := diff["a"]
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestPropertiesClone(t *testing.T) {
	p := NewProperties()
	p.Set("a", "1")
	clone := p.Clone()
	clone.Set("a", "2")
	v, _ := p.Get("a")
	assert.Equal(t, "1", v)
}
