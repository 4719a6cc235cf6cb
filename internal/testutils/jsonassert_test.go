package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	ja := NewJSONAsserter(t)
	assert.True(t, ja.options.IgnoreExtraKeys)
	assert.True(t, ja.options.AllowPresencePlaceholder)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "equal objects",
			actual:   `{"sensor":"power","value":250}`,
			expected: `{"value":250,"sensor":"power"}`,
			match:    true,
		},
		{
			name:     "extra keys ignored",
			actual:   `{"sensor":"power","value":250,"formatted":"250"}`,
			expected: `{"sensor":"power","value":250}`,
			match:    true,
		},
		{
			name:     "extra keys reported when not ignored",
			opts:     []JSONOption{WithIgnoreExtraKeys(false)},
			actual:   `{"sensor":"power","value":250,"formatted":"250"}`,
			expected: `{"sensor":"power","value":250}`,
		},
		{
			name:     "presence placeholder",
			actual:   `[{"address":"aa","battery":87}]`,
			expected: `[{"address":"aa","battery":"<<PRESENCE>>"}]`,
			match:    true,
		},
		{
			name:     "placeholder requires the key",
			actual:   `[{"address":"aa"}]`,
			expected: `[{"address":"aa","battery":"<<PRESENCE>>"}]`,
		},
		{
			name:     "placeholder disabled",
			opts:     []JSONOption{WithPresencePlaceholder(false)},
			actual:   `{"battery":87}`,
			expected: `{"battery":"<<PRESENCE>>"}`,
		},
		{
			name:     "different array length",
			actual:   `[1,2]`,
			expected: `[1,2,3]`,
		},
		{
			name:     "invalid JSON",
			actual:   `{`,
			expected: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t, tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestJSONAsserter_AssertReportsDiff(t *testing.T) {
	mockT := &mockTestingT{}
	ok := NewJSONAsserter(mockT).Assert(`{"value":1}`, `{"value":2}`)
	assert.False(t, ok)
	assert.True(t, mockT.errorCalled)
	assert.Contains(t, mockT.errorMessage, "JSON assertion failed")
}
