package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMapper(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapper.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewPartitions(t *testing.T) {
	set, err := New(Golden, []FieldMapping{
		{Selector: "id", Key: "CustomerId", IsUnique: true},
		{Selector: " name ", Key: "Name", DataType: "STRING"},
		{Selector: "email", Key: "Email", IsUnique: true, DataType: "string"},
		{Selector: "age", Key: "Age", DataType: "Number"},
	})
	require.NoError(t, err)

	assert.Equal(t, Golden, set.Target())
	unique := set.UniqueMappings()
	values := set.ValueMappings()
	require.Len(t, unique, 2)
	require.Len(t, values, 2)
	assert.Equal(t, "id", unique[0].Selector)
	assert.Equal(t, "email", unique[1].Selector)
	assert.Equal(t, "name", values[0].Selector)
	assert.Equal(t, TypeString, values[0].DataType)
	assert.Equal(t, TypeNumber, values[1].DataType)
	assert.Len(t, set.All(), 4)
	assert.Equal(t, []string{"id", "name", "email", "age"}, set.Selectors())

	// Returned slices are copies.
	unique[0].Selector = "mutated"
	assert.Equal(t, "id", set.UniqueMappings()[0].Selector)
}

func TestNewRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name     string
		mappings []FieldMapping
		wantMsg  string
	}{
		{"empty", nil, "mapping set is empty"},
		{"unknown type", []FieldMapping{{Selector: "a", Key: "A", DataType: "money"}}, "unrecognized Data_Type 'money'"},
		{"missing type on value", []FieldMapping{{Selector: "a", Key: "A"}}, "unrecognized Data_Type ''"},
		{"unknown type on unique", []FieldMapping{{Selector: "a", IsUnique: true, DataType: "uuid"}}, "unrecognized Data_Type 'uuid'"},
		{"missing key", []FieldMapping{{Selector: "a", DataType: "string"}}, "Grs_Field_Key is required"},
		{"missing selector", []FieldMapping{{Key: "A", DataType: "string"}}, "source selector is required"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(Scheme, tc.mappings)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfigInvalid)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "GOLDEN", Golden.String())
	assert.Equal(t, "SCHEME", Scheme.String())
	assert.Equal(t, "Target(7)", Target(7).String())
}

func TestLoadFileAcceptsAnyHeaderKey(t *testing.T) {
	path := writeMapper(t, `{
		"Field_Mappings": [
			{"Csv_Header": "id", "Grs_Field_Key": "CustomerId", "Data_Type": "string", "IsUnique": true},
			{"Json_Header": "profile.age", "Grs_Field_Key": "Age", "Data_Type": "number", "IsUnique": false},
			{"XML_HEADER": "Name/First", "grs_field_key": "FirstName", "data_type": "String"}
		]
	}`)
	set, err := LoadFile(path, Golden)
	require.NoError(t, err)
	all := set.All()
	require.Len(t, all, 3)
	assert.Equal(t, FieldMapping{Selector: "id", Key: "CustomerId", DataType: "string", IsUnique: true}, all[0])
	assert.Equal(t, "profile.age", all[1].Selector)
	assert.Equal(t, "Name/First", all[2].Selector)
	assert.Equal(t, "string", all[2].DataType)
}

func TestLoadFileErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"malformed json", `{"Field_Mappings": [`, "failed to parse"},
		{"no mappings", `{"Field_Mappings": []}`, "mapping set is empty"},
		{"missing header", `{"Field_Mappings": [{"Grs_Field_Key": "A", "Data_Type": "string"}]}`, "missing '<Format>_Header'"},
		{"two headers", `{"Field_Mappings": [{"Csv_Header": "a", "Sql_Header": "b", "Grs_Field_Key": "A", "Data_Type": "string"}]}`, "multiple selector keys"},
		{"bad isunique", `{"Field_Mappings": [{"Csv_Header": "a", "IsUnique": "yes"}]}`, "must be a boolean"},
		{"bad type", `{"Field_Mappings": [{"Csv_Header": "a", "Grs_Field_Key": "A", "Data_Type": "money"}]}`, "unrecognized Data_Type"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeMapper(t, tc.content), Golden)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfigInvalid)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"), Golden)
	assert.ErrorIs(t, err, ErrConfigInvalid)
	_, err = LoadFile("  ", Golden)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestLoadSheets(t *testing.T) {
	path := writeMapper(t, `{
		"Sheets": [
			{
				"SheetName": "Customers",
				"Field_Mappings": [
					{"Excel_Header": "Id", "Grs_Field_Key": "CustomerId", "IsUnique": true},
					{"Excel_Header": "Name", "Grs_Field_Key": "Name", "Data_Type": "string"}
				]
			},
			{
				"SheetName": "Orders",
				"Json_Field_Key": "OrderLines",
				"Field_Mappings": [
					{"Excel_Header": "CustomerId", "Grs_Field_Key": "CustomerId", "IsUnique": true},
					{"Excel_Header": "Sku"},
					{"Excel_Header": "Qty", "Data_Type": "number"}
				]
			}
		]
	}`)
	sheets, err := LoadSheets(path, Scheme)
	require.NoError(t, err)
	require.Len(t, sheets, 2)

	assert.Equal(t, "Customers", sheets[0].Name)
	assert.False(t, sheets[0].IsTableControl())
	assert.Equal(t, Scheme, sheets[0].Set.Target())

	assert.True(t, sheets[1].IsTableControl())
	assert.Equal(t, "OrderLines", sheets[1].JSONFieldKey)
	values := sheets[1].Set.ValueMappings()
	require.Len(t, values, 2)
	assert.Equal(t, "Sku", values[0].Key)
	assert.Equal(t, TypeString, values[0].DataType)
}

func TestLoadSheetsErrors(t *testing.T) {
	_, err := LoadSheets(writeMapper(t, `{"Sheets": []}`), Golden)
	assert.ErrorIs(t, err, ErrConfigInvalid)

	_, err = LoadSheets(writeMapper(t, `{"Sheets": [{"Field_Mappings": [{"Excel_Header": "a", "IsUnique": true}]}]}`), Golden)
	assert.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "SheetName is required")

	_, err = LoadSheets(writeMapper(t, `{"Sheets": [{"SheetName": "S", "Field_Mappings": [{"Excel_Header": "a"}]}]}`), Golden)
	assert.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "sheet 'S'")
}
