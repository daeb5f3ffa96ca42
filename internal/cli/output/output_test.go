package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStruct struct {
	Name    string   `json:"name"`
	Value   int      `json:"value"`
	Tags    []string `json:"tags,omitempty"`
	Enabled string   `json:"enabled"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "json", want: FormatJSON},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yaml", input: "yaml", want: FormatYAML},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  table  ", want: FormatTable},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPrinterDisablesColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable)

	p.Success("done")
	assert.Equal(t, "done\n", buf.String())
}

func TestPrinterColor(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable).WithColor(true)

	p.Error("boom")
	assert.Equal(t, "\033[31mboom\033[0m\n", buf.String())
	assert.Equal(t, "\033[32mok\033[0m", p.Badge("ok"))
	assert.Equal(t, "\033[33mwarning\033[0m", p.Badge("warning"))
	assert.Equal(t, "\033[31merror\033[0m", p.Badge("error"))
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, testStruct{Name: "test", Value: 42}))

	assert.Contains(t, buf.String(), `"name": "test"`)
	assert.Contains(t, buf.String(), `"value": 42`)
}

func TestPrintYAMLKeepsJSONNamesAndOrder(t *testing.T) {
	var buf bytes.Buffer
	data := testStruct{Name: "test", Value: 42, Tags: []string{"a", "b"}, Enabled: "true"}
	require.NoError(t, PrintYAML(&buf, data))

	out := buf.String()
	assert.Contains(t, out, "name: test\nvalue: 42\ntags:\n  - a\n  - b\n")
	// A string that looks like a bool must stay a string.
	assert.Contains(t, out, `enabled: "true"`)
}

func TestPrinterFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(testStruct{Name: "x"}))
	assert.Contains(t, buf.String(), `"name": "x"`)
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Name", "Value")
	table.AddRow("key1", "value1")
	table.AddRow("key2", "value2")

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(table))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "VALUE")
	assert.Contains(t, out, "key1")
	assert.Contains(t, out, "value2")
}

func TestKeyValues(t *testing.T) {
	kv := KeyValues{}.Add("Status", "healthy").Add("Uptime", "3m")

	assert.Nil(t, kv.Headers())
	assert.Equal(t, [][]string{{"Status:", "healthy"}, {"Uptime:", "3m"}}, kv.Rows())

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, kv))
	assert.Contains(t, buf.String(), "Status:")
	assert.NotContains(t, buf.String(), "STATUS")
}
