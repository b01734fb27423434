package io

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSource(t *testing.T) {
	csvPath := createTempFile(t, "id\n1\n", "test_*.csv")
	jsonPath := createTempFile(t, `[{"id": 1}]`, "test_*.json")
	xmlPath := createTempFile(t, `<r><i id="1"/></r>`, "test_*.xml")

	testCases := []struct {
		name       string
		src        Source
		wantErrMsg string
		wantType   reflect.Type
	}{
		{name: "csv", src: Source{Format: "csv", Path: csvPath}, wantType: reflect.TypeOf(&CSVReader{})},
		{name: "case insensitive format", src: Source{Format: "Csv", Path: csvPath}, wantType: reflect.TypeOf(&CSVReader{})},
		{name: "json", src: Source{Format: "json", Path: jsonPath}, wantType: reflect.TypeOf(&JSONReader{})},
		{name: "xml", src: Source{Format: "xml", Path: xmlPath, RecordPath: "//i"}, wantType: reflect.TypeOf(&XMLReader{})},
		{name: "unsupported format", src: Source{Format: "parquet", Path: "x.pq"}, wantErrMsg: "unsupported source format 'parquet'"},
		{name: "xml without xpath", src: Source{Format: "xml", Path: xmlPath}, wantErrMsg: "record XPath is required"},
		{name: "sql without connection", src: Source{Format: "sql", SQL: SQLOptions{Query: "SELECT 1"}}, wantErrMsg: "connection string is required"},
		{name: "sql without query", src: Source{Format: "sql", SQL: SQLOptions{ConnectionString: "postgres://u:p@h/db"}}, wantErrMsg: "query is required"},
		{
			name:       "csv error is propagated",
			src:        Source{Format: "csv", Path: csvPath, CSV: CSVOptions{Delimiter: ";;"}},
			wantErrMsg: "failed to create CSV reader: invalid delimiter",
		},
		{
			name:       "sql driver error is propagated",
			src:        Source{Format: "sql", SQL: SQLOptions{Driver: "oracle", ConnectionString: "x", Query: "SELECT 1"}},
			wantErrMsg: "failed to create SQL reader: unsupported SQL driver 'oracle'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reader, err := OpenSource(context.Background(), tc.src)
			if tc.wantErrMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErrMsg)
				assert.Nil(t, reader)
				return
			}
			require.NoError(t, err)
			defer reader.Close()
			assert.Equal(t, tc.wantType, reflect.TypeOf(reader))
		})
	}
}
