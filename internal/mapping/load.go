package mapping

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Sheet is the mapping set for one named worksheet. A non-empty JSONFieldKey
// marks a table-control sheet whose rows are aggregated per unique key.
type Sheet struct {
	Name         string
	JSONFieldKey string
	Set          *Set
}

// IsTableControl reports whether rows of the sheet are grouped into one JSON array field.
func (s Sheet) IsTableControl() bool { return s.JSONFieldKey != "" }

type mapperFile struct {
	FieldMappings []rawMapping `json:"Field_Mappings"`
}

type sheetFile struct {
	Sheets []struct {
		SheetName     string       `json:"SheetName"`
		JSONFieldKey  string       `json:"Json_Field_Key"`
		FieldMappings []rawMapping `json:"Field_Mappings"`
	} `json:"Sheets"`
}

// rawMapping accepts any "<Format>_Header" key as the source selector.
type rawMapping struct {
	FieldMapping
	problem string
}

func (r *rawMapping) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	// Deterministic order so "multiple header keys" reports are stable.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var headerKeys []string
	for _, k := range keys {
		raw := fields[k]
		lower := strings.ToLower(k)
		switch {
		case strings.HasSuffix(lower, "_header"):
			headerKeys = append(headerKeys, k)
			if err := json.Unmarshal(raw, &r.Selector); err != nil {
				return fmt.Errorf("field '%s' must be a string: %w", k, err)
			}
		case lower == "grs_field_key":
			if err := json.Unmarshal(raw, &r.Key); err != nil {
				return fmt.Errorf("field '%s' must be a string: %w", k, err)
			}
		case lower == "data_type":
			if err := json.Unmarshal(raw, &r.DataType); err != nil {
				return fmt.Errorf("field '%s' must be a string: %w", k, err)
			}
		case lower == "isunique":
			if err := json.Unmarshal(raw, &r.IsUnique); err != nil {
				return fmt.Errorf("field '%s' must be a boolean: %w", k, err)
			}
		}
	}
	switch len(headerKeys) {
	case 0:
		r.problem = "missing '<Format>_Header' selector key"
	case 1:
	default:
		r.problem = fmt.Sprintf("multiple selector keys %v", headerKeys)
	}
	return nil
}

func toMappings(raws []rawMapping) ([]FieldMapping, []string) {
	var problems []string
	out := make([]FieldMapping, 0, len(raws))
	for i, r := range raws {
		if r.problem != "" {
			problems = append(problems, fmt.Sprintf("- Field_Mappings[%d]: %s", i, r.problem))
		}
		out = append(out, r.FieldMapping)
	}
	return out, problems
}

func readMapperFile(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: field mapper file path is empty", ErrConfigInvalid)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read field mapper file '%s': %v", ErrConfigInvalid, path, err)
	}
	return data, nil
}

// LoadFile reads a flat mapper file ({"Field_Mappings": [...]}) and validates it.
func LoadFile(path string, target Target) (*Set, error) {
	data, err := readMapperFile(path)
	if err != nil {
		return nil, err
	}
	var mf mapperFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: failed to parse field mapper file '%s': %v", ErrConfigInvalid, path, err)
	}
	mappings, problems := toMappings(mf.FieldMappings)
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: field mapper file '%s':\n%s", ErrConfigInvalid, path, strings.Join(problems, "\n"))
	}
	set, err := New(target, mappings)
	if err != nil {
		return nil, fmt.Errorf("field mapper file '%s': %w", path, err)
	}
	return set, nil
}

// LoadSheets reads a spreadsheet mapper file ({"Sheets": [...]}) and validates every sheet.
func LoadSheets(path string, target Target) ([]Sheet, error) {
	data, err := readMapperFile(path)
	if err != nil {
		return nil, err
	}
	var sf sheetFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: failed to parse field mapper file '%s': %v", ErrConfigInvalid, path, err)
	}
	if len(sf.Sheets) == 0 {
		return nil, fmt.Errorf("%w: field mapper file '%s' declares no Sheets", ErrConfigInvalid, path)
	}

	sheets := make([]Sheet, 0, len(sf.Sheets))
	for i, s := range sf.Sheets {
		name := strings.TrimSpace(s.SheetName)
		if name == "" {
			return nil, fmt.Errorf("%w: field mapper file '%s': Sheets[%d].SheetName is required", ErrConfigInvalid, path, i)
		}
		mappings, problems := toMappings(s.FieldMappings)
		if len(problems) > 0 {
			return nil, fmt.Errorf("%w: field mapper file '%s', sheet '%s':\n%s", ErrConfigInvalid, path, name, strings.Join(problems, "\n"))
		}
		jsonKey := strings.TrimSpace(s.JSONFieldKey)
		if jsonKey != "" {
			// Table-control value columns are serialized verbatim, so their
			// declared types and keys are not used.
			for j := range mappings {
				if !mappings[j].IsUnique && mappings[j].DataType == "" {
					mappings[j].DataType = TypeString
				}
				if !mappings[j].IsUnique && mappings[j].Key == "" {
					mappings[j].Key = mappings[j].Selector
				}
			}
		}
		set, err := New(target, mappings)
		if err != nil {
			return nil, fmt.Errorf("field mapper file '%s', sheet '%s': %w", path, name, err)
		}
		sheets = append(sheets, Sheet{Name: name, JSONFieldKey: jsonKey, Set: set})
	}
	return sheets, nil
}
