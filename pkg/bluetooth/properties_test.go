package bluetooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseProperties(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Properties
		wantErr  bool
	}{
		{name: "empty", input: "", expected: 0},
		{name: "single", input: "read", expected: PropertyRead},
		{name: "list with spaces", input: "Read, Notify", expected: PropertyRead | PropertyNotify},
		{name: "write-nr alias", input: "wnr,write", expected: PropertyWriteWithoutResponse | PropertyWrite},
		{name: "unknown flag", input: "read,teleport", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProperties(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "MUST reject unknown flags")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestProperties_String(t *testing.T) {
	assert.Equal(t, "read,notify", (PropertyRead | PropertyNotify).String())
	assert.Equal(t, "", Properties(0).String())
	assert.True(t, (PropertyRead | PropertyIndicate).CanNotify(), "indicate MUST count as notify capable")
	assert.False(t, PropertyRead.CanNotify())
}

func TestProperties_YAML(t *testing.T) {
	// GOAL: Verify service profiles accept property names and raw bitmasks
	//
	// TEST SCENARIO: Decode both forms, then re-encode and decode again

	var svc MutableService
	err := yaml.Unmarshal([]byte(`
uuid: "180f"
is_primary: true
characteristics:
  - uuid: "2a19"
    properties: read,notify
  - uuid: "2a1a"
    properties: 0x0a
`), &svc)
	require.NoError(t, err)
	require.Len(t, svc.Characteristics, 2)
	assert.Equal(t, PropertyRead|PropertyNotify, svc.Characteristics[0].Properties)
	assert.Equal(t, PropertyRead|PropertyWrite, svc.Characteristics[1].Properties, "hex bitmask MUST decode")

	out, err := yaml.Marshal(svc)
	require.NoError(t, err)
	assert.Contains(t, string(out), "properties: read,notify", "properties MUST be written by name")

	var again MutableService
	require.NoError(t, yaml.Unmarshal(out, &again))
	assert.Equal(t, svc.Characteristics[0].Properties, again.Characteristics[0].Properties)

	err = yaml.Unmarshal([]byte("uuid: \"180f\"\ncharacteristics:\n  - uuid: \"2a19\"\n    properties: fly\n"), &svc)
	assert.Error(t, err, "unknown property names MUST fail to decode")
}
