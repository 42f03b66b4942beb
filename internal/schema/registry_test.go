package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedRegistry(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "abp-premium-3.1", reg.Version)

	blpu, ok := reg.ByCode("21")
	require.True(t, ok)
	assert.Equal(t, "blpu", blpu.Name)

	lpi, ok := reg.ByName("lpi")
	require.True(t, ok)
	assert.Equal(t, "24", lpi.Code)

	for _, code := range []string{"10", "11", "23", "29", "30", "99"} {
		assert.True(t, reg.Ignored(code), "code %s should be ignored", code)
	}
	assert.False(t, reg.Ignored("21"))

	_, ok = reg.ByCode("40")
	assert.False(t, ok)
}

func TestRecordTypeSQL(t *testing.T) {
	rt := RecordType{
		Code: "21",
		Name: "blpu",
		Fields: []Field{
			{Name: "record_identifier", Type: TypeInteger},
			{Name: "uprn", Type: TypeUPRN},
			{Name: "start_date", Type: TypeDate},
		},
	}
	assert.Equal(t,
		"CREATE OR REPLACE TABLE blpu (record_identifier INTEGER, uprn UBIGINT, start_date DATE)",
		rt.CreateTableSQL())
	assert.Equal(t, "INSERT INTO blpu VALUES (?, ?, ?)", rt.InsertSQL())
}

func TestLoadExternalRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, defaultRegistry, 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abp-premium-3.1", reg.Version)
}

func TestLoadRejectsInvalidRegistry(t *testing.T) {
	cases := map[string]string{
		"missing required relation": `
version: v1
record_types:
  - code: "21"
    name: blpu
    fields: [{ name: uprn, type: uprn }]
`,
		"duplicate code": `
version: v1
record_types:
  - code: "21"
    name: blpu
    fields: [{ name: uprn, type: uprn }]
  - code: "21"
    name: lpi
    fields: [{ name: uprn, type: uprn }]
`,
		"unknown field type": `
version: v1
record_types:
  - code: "21"
    name: blpu
    fields: [{ name: uprn, type: guid }]
`,
		"no fields": `
version: v1
record_types:
  - code: "21"
    name: blpu
    fields: []
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "registry.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
