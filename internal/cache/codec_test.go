package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeManifest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		version  int64
		body     []byte
		expected string
	}{
		{
			name:     "happy path",
			version:  42,
			body:     []byte(`{"interactions":[]}`),
			expected: `42|{"interactions":[]}`,
		},
		{
			name:     "max int64 version",
			version:  9223372036854775807,
			body:     []byte(`{}`),
			expected: `9223372036854775807|{}`,
		},
		{
			name:     "empty body",
			version:  1,
			body:     nil,
			expected: "1|",
		},
		{
			name:     "pipes inside the document",
			version:  5,
			body:     []byte(`{"targets":{"a|b":[]}}`),
			expected: `5|{"targets":{"a|b":[]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			result := encodeManifest(tt.body, tt.version)

			// Assert
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDecodeManifest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		encoded     string
		wantVersion int64
		wantBody    string
		wantOK      bool
	}{
		{
			name:        "happy path",
			encoded:     `42|{"interactions":[]}`,
			wantVersion: 42,
			wantBody:    `{"interactions":[]}`,
			wantOK:      true,
		},
		{
			name:        "pipes inside the document",
			encoded:     `5|{"targets":{"a|b":[]}}`,
			wantVersion: 5,
			wantBody:    `{"targets":{"a|b":[]}}`,
			wantOK:      true,
		},
		{
			name:        "negative min int64 still fits the prefix window",
			encoded:     "-9223372036854775808|{}",
			wantVersion: -9223372036854775808,
			wantBody:    "{}",
			wantOK:      true,
		},
		{
			name:     "missing prefix",
			encoded:  `{"interactions":[]}`,
			wantBody: `{"interactions":[]}`,
		},
		{
			name:     "non numeric prefix",
			encoded:  `v2|{}`,
			wantBody: `v2|{}`,
		},
		{
			name:     "separator past the prefix window",
			encoded:  strings.Repeat("0", 21) + "|data",
			wantBody: strings.Repeat("0", 21) + "|data",
		},
		{
			name:        "long body",
			encoded:     "1234567890123456789|" + strings.Repeat("x", 1000),
			wantVersion: 1234567890123456789,
			wantBody:    strings.Repeat("x", 1000),
			wantOK:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			version, body, ok := decodeManifest(tt.encoded)

			// Assert
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantVersion, version)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestDecodeInvalidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		want    Invalidation
	}{
		{name: "happy path", message: "demo-app:42", want: Invalidation{AppKey: "demo-app", Version: 42}},
		{name: "deletion", message: "demo-app:0", want: Invalidation{AppKey: "demo-app"}},
		{name: "no version", message: "demo-app", want: Invalidation{AppKey: "demo-app"}},
		{name: "non numeric version", message: "demo:v2", want: Invalidation{AppKey: "demo:v2"}},
		{name: "only colon", message: ":", want: Invalidation{AppKey: ":"}},
		{name: "empty key", message: ":7", want: Invalidation{Version: 7}},
		{name: "overflow", message: "app:99999999999999999999999", want: Invalidation{AppKey: "app:99999999999999999999999"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, DecodeInvalidation(tt.message))
		})
	}
}

func TestCodec_PropertyAlwaysRecoverable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		appKey  string
		version int64
		body    string
	}{
		{"a", 1, `{}`},
		{"com.example.app", 100, `{"interactions":[{"id":"x"}]}`},
		{"MixedCase_123", 9223372036854775807, `{"targets":{"e|f":[]}}`},
		{"neg", -1, `[]`},
	}

	for _, tc := range cases {
		version, body, ok := decodeManifest(encodeManifest([]byte(tc.body), tc.version))
		require.True(t, ok)
		require.Equal(t, tc.version, version)
		require.Equal(t, tc.body, body)

		inv := DecodeInvalidation(Invalidation{AppKey: tc.appKey, Version: tc.version}.String())
		require.Equal(t, Invalidation{AppKey: tc.appKey, Version: tc.version}, inv)
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "engage:manifest:demo", ManifestKey("demo"))
	assert.Equal(t, "engage:session:demo:abc", SessionKey("demo", "abc"))
	assert.Equal(t, "engage:manifests:updates", UpdatesChannel)
}

func TestSetResultString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "skipped", SetResultSkipped.String())
	assert.Equal(t, "updated", SetResultUpdated.String())
	assert.Equal(t, "repaired", SetResultRepaired.String())
	assert.Equal(t, "SetResult(9)", SetResult(9).String())
}
