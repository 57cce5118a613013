package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSKeyOrderIndependence(t *testing.T) {
	a := json.RawMessage(`{"b":2,"a":1,"nested":{"z":true,"y":null}}`)
	b := json.RawMessage(`{"nested":{"y":null,"z":true},"a":1,"b":2}`)

	ca, err := JCSString(a)
	require.NoError(t, err)
	cb, err := JCSString(b)
	require.NoError(t, err)

	assert.Equal(t, ca, cb)
	assert.Equal(t, `{"a":1,"b":2,"nested":{"y":null,"z":true}}`, ca)
}

func TestJCSScalars(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{true, "true"},
		{42, "42"},
		{"plain", `"plain"`},
		{[]int{3, 1, 2}, "[3,1,2]"},
		{map[string]any{}, "{}"},
	}
	for _, tc := range cases {
		got, err := JCSString(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	got, err := JCSString(map[string]string{"q": "a<b&c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b&c>d"}`, got)
}

func TestJCSArrayOrderPreserved(t *testing.T) {
	got, err := JCSString([]any{"z", "a", map[string]int{"b": 2, "a": 1}})
	require.NoError(t, err)
	assert.Equal(t, `["z","a",{"a":1,"b":2}]`, got)
}

func TestDigestStability(t *testing.T) {
	// SHA-256 of the empty string, lowercase hex.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Digest(""))
	assert.Equal(t, Digest("x"), Digest("x"))
	assert.NotEqual(t, Digest("x"), Digest("y"))
}

func TestChainHashGenesisSentinel(t *testing.T) {
	withEmpty := ChainHash("", "p", "m")
	explicit := Digest(Genesis + "|p|m")
	assert.Equal(t, explicit, withEmpty)

	linked := ChainHash("prevhash", "p", "m")
	assert.Equal(t, Digest("prevhash|p|m"), linked)
	assert.NotEqual(t, withEmpty, linked)
}

// CanonicalHash must be insensitive to map iteration and key insertion order.
func TestCanonicalHashProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is key-order independent", prop.ForAll(
		func(keys []string, values []int) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				obj[keys[i]] = values[i]
			}

			// Round-trip through JSON so the second value has an arbitrary
			// decode order, then compare hashes.
			raw, err := json.Marshal(obj)
			if err != nil {
				return false
			}
			var decoded map[string]any
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return false
			}

			h1, err1 := CanonicalHash(obj)
			h2, err2 := CanonicalHash(decoded)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
