package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	args := map[string]any{"a": "  x  ", "n": 3}
	assert.Equal(t, "x", String(args, "a"))
	assert.Equal(t, "  x  ", Text(args, "a"))
	assert.Empty(t, String(args, "n"))
	assert.Empty(t, String(nil, "a"))
}

func TestBool(t *testing.T) {
	args := map[string]any{"t": true, "s": "true", "bad": "nope", "n": 1.0}
	assert.True(t, Bool(args, "t"))
	assert.True(t, Bool(args, "s"))
	assert.False(t, Bool(args, "bad"))
	assert.False(t, Bool(args, "n"))
	assert.False(t, Bool(args, "missing"))
}

func TestInt(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    int
		wantErr bool
	}{
		{name: "absent", value: nil, want: 0},
		{name: "number", value: 3.0, want: 3},
		{name: "fraction", value: 2.5, wantErr: true},
		{name: "numeric string", value: " 7 ", want: 7},
		{name: "empty string", value: "", want: 0},
		{name: "word", value: "seven", wantErr: true},
		{name: "bool", value: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Int(map[string]any{"n": tt.value}, "n")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringList(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    []string
		wantErr string
	}{
		{name: "absent", value: nil, want: nil},
		{name: "comma separated", value: "a@example.com, b@example.com,", want: []string{"a@example.com", "b@example.com"}},
		{name: "array", value: []any{"id-1", " id-2 "}, want: []string{"id-1", "id-2"}},
		{name: "non-string item", value: []any{"id-1", 2.0}, wantErr: "ids[1] must be a string"},
		{name: "empty item", value: []any{""}, wantErr: "ids[0] cannot be empty"},
		{name: "wrong type", value: 3.0, wantErr: "must be a string or array"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StringList(map[string]any{"ids": tt.value}, "ids")
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddressList(t *testing.T) {
	got, err := AddressList(map[string]any{"to": []any{"a@example.com", " b@example.com "}}, "to")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com, b@example.com", got)

	got, err = AddressList(map[string]any{}, "to")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = AddressList(map[string]any{"to": 3}, "to")
	assert.Error(t, err)
}
