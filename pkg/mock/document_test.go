package mock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinitions_RequiresArray(t *testing.T) {
	inputs := map[string]string{
		FormatJSON: `{"endpoints": {"path": "/a"}}`,
		FormatYAML: "endpoints:\n  path: /a\n",
	}
	for format, input := range inputs {
		_, err := ParseDefinitions([]byte(input), format)
		require.Error(t, err, format)
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Equal(t, "Endpoints must be an array", err.Error())
	}

	_, err := ParseDefinitions([]byte(`{}`), FormatJSON)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDocument_RoundTrip(t *testing.T) {
	endpoints := []*Endpoint{
		{
			ID: "a", Path: "/a", Method: "GET", StatusCode: 200,
			Headers:     Headers{{Name: "X-A", Value: "1"}},
			Body:        `{"hello":"world"}`,
			ContentType: ContentTypeJSON,
		},
		{
			ID: "b", Path: "/b", Method: "POST", StatusCode: 201,
			Headers:     Headers{},
			Body:        "plain text",
			Delay:       25,
			ContentType: "text/plain",
		},
	}

	for _, format := range []string{FormatJSON, FormatYAML} {
		t.Run(format, func(t *testing.T) {
			data, err := EncodeDocument(endpoints, format)
			require.NoError(t, err)

			defs, err := ParseDefinitions(data, format)
			require.NoError(t, err)
			require.Len(t, defs, 2)

			for i, def := range defs {
				got, err := NewEndpoint(def, fixedNow)
				require.NoError(t, err)
				want := endpoints[i]
				assert.Equal(t, want.ID, got.ID)
				assert.Equal(t, want.Path, got.Path)
				assert.Equal(t, want.Method, got.Method)
				assert.Equal(t, want.StatusCode, got.StatusCode)
				assert.Equal(t, want.Headers, got.Headers)
				assert.Equal(t, want.Body, got.Body)
				assert.Equal(t, want.Delay, got.Delay)
				assert.Equal(t, want.ContentType, got.ContentType)
			}
		})
	}
}

func TestFormatDetection(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromContentType("application/x-yaml"))
	assert.Equal(t, FormatJSON, FormatFromContentType("application/json; charset=utf-8"))
	assert.Equal(t, FormatYAML, FormatFromPath("mocks.yml"))
	assert.Equal(t, FormatJSON, FormatFromPath("mocks.json"))
	assert.Equal(t, FormatYAML, NormalizeFormat("YML"))
}
