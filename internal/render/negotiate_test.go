package render

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name   string
		target string
		accept string
		want   Format
	}{
		{name: "default", target: "/api/students", want: FormatJSON},
		{name: "query xml", target: "/api/students?format=xml", want: FormatXML},
		{name: "query wins over accept", target: "/api/students?format=json", accept: "application/xml", want: FormatJSON},
		{name: "accept xml", target: "/api/students", accept: "text/html, application/xml;q=0.9", want: FormatXML},
		{name: "accept json first", target: "/api/students", accept: "application/json, application/xml", want: FormatJSON},
		{name: "accept unknown", target: "/api/students", accept: "text/html", want: FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			got, err := Negotiate(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNegotiateUnknownFormat(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/students?format=yaml", nil)
	got, err := Negotiate(req)
	require.Error(t, err)
	assert.Equal(t, FormatJSON, got)
	assert.Contains(t, err.Error(), "yaml")
}
