package sigv4

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Host:Example.COM", "host:Example.COM"},
		{"No-Colon", "no-colon"},
		{"x-amz-meta:a:B", "x-amz-meta:a:B"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalHeader(tt.in))
		})
	}
}

func TestHeaders_SortStable(t *testing.T) {
	var h Headers
	h.Add("b:2")
	h.Add("a:first")
	h.Add("c")
	h.Add("a:second")
	h.Sort()

	assert.Equal(t, []string{"a:first", "a:second", "b:2", "c"}, h.List())
	assert.Equal(t, "a;a;b;c", h.Names())
}

func TestHeaders_SetDel(t *testing.T) {
	var h Headers
	h.Add("x:1")
	h.Add("y:2")
	h.Add("x:3")

	h.Set("X", "9")
	assert.Equal(t, []string{"x:9", "y:2"}, h.List())

	h.Set("z", "0")
	assert.Equal(t, []string{"x:9", "y:2", "z:0"}, h.List())

	h.Del("Y")
	assert.Equal(t, []string{"x:9", "z:0"}, h.List())

	_, ok := h.Get("y")
	assert.False(t, ok)
}

func TestHeaders_Each(t *testing.T) {
	var h Headers
	h.Add("A:1")
	h.Add("flag")

	var got []string
	h.Each(func(name, value string) {
		got = append(got, name+"="+value)
	})
	assert.Equal(t, []string{"a=1", "flag="}, got)
}
