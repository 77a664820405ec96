package render

import (
	"bytes"
	"testing"
	"testing/fstest"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saloed/GalaxyAPI/internal/assemble"
	"github.com/Saloed/GalaxyAPI/internal/endpoint"
	"github.com/Saloed/GalaxyAPI/internal/engine"
)

const studentsYAML = `
name: students
query: SELECT id, name, born, faculty_id, phone FROM students
key: id
pagination_enabled: true
schema:
  type: object
  name: student
  fields:
    id: {type: integer, db_name: id, xml_attribute: true}
    name: {type: string, db_name: name}
    born: {type: date, db_name: born}
    faculty: {type: select, endpoint: faculty, params: {id: faculty_id}}
    phones:
      type: object
      many: true
      fields:
        number: {type: string, db_name: phone}
`

const facultyYAML = `
name: faculty
query: SELECT id, title, code FROM faculties
params:
  - {name: id, type: integer, operation: exact, condition: id}
schema:
  type: object
  fields:
    title: {type: string, db_name: title}
    code: {type: string, db_name: code, xml_attribute: true}
`

func record(kv ...any) *assemble.Record {
	rec := assemble.NewRecord(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Set(kv[i].(string), kv[i+1])
	}
	return rec
}

func studentsResult(t *testing.T) *engine.Result {
	t.Helper()
	endpoints, err := endpoint.LoadFS(fstest.MapFS{
		"students.yaml": {Data: []byte(studentsYAML)},
		"faculty.yaml":  {Data: []byte(facultyYAML)},
	})
	require.NoError(t, err)
	reg, _, err := endpoint.NewRegistry(endpoints)
	require.NoError(t, err)
	ep, ok := reg.Get("students")
	require.True(t, ok)

	return &engine.Result{
		Endpoint: ep,
		Registry: reg,
		Data: []any{
			record(
				"id", int64(1),
				"name", "Ann",
				"born", time.Date(2001, 2, 3, 0, 0, 0, 0, time.UTC),
				"faculty", []any{record("title", "Math", "code", "M")},
				"phones", []any{record("number", "111"), record("number", "222")},
			),
			record(
				"id", int64(2),
				"name", "Bob",
				"born", nil,
				"faculty", nil,
				"phones", []any{record("number", nil)},
			),
		},
		Page: &engine.PageInfo{Number: 1, Size: 2, HasNext: true, HasPrev: true},
	}
}

func testLinks() Links {
	return Links{
		Prev: "http://api.example/api/students?page=0&pagesize=2",
		Next: "http://api.example/api/students?page=2&pagesize=2",
	}
}

func TestGoldenRender(t *testing.T) {
	g := goldie.New(t)

	t.Run("students_page_json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, FormatJSON, studentsResult(t), testLinks()))
		g.Assert(t, "students_page_json", buf.Bytes())
	})

	t.Run("students_page_xml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, FormatXML, studentsResult(t), testLinks()))
		g.Assert(t, "students_page_xml", buf.Bytes())
	})
}

func TestEnvelopeWithoutPage(t *testing.T) {
	result := studentsResult(t)
	result.Page = nil
	env := Envelope(result, Links{})
	assert.Equal(t, result.Data, env)

	result.Data = nil
	assert.Equal(t, []any{}, Envelope(result, Links{}))
}

func TestEnvelopeFirstPage(t *testing.T) {
	result := studentsResult(t)
	result.Page = &engine.PageInfo{Number: 0, Size: 20}
	result.Data = nil

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, result, Links{}))
	assert.Equal(t, `{"has_next":false,"has_prev":false,"prev":null,"next":null,"students":[]}`+"\n", buf.String())
}

func TestWriteErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteError(&buf, FormatJSON, "Required parameters not specified: id"))
	assert.Equal(t, `{"detail":"Required parameters not specified: id"}`+"\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteError(&buf, FormatXML, "Invalid API key"))
	assert.Equal(t, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<root>\n  <error>Invalid API key</error>\n</root>\n", buf.String())
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Equal(t, "application/xml; charset=utf-8", FormatXML.ContentType())
}

func TestValueText(t *testing.T) {
	assert.Equal(t, "", valueText(nil))
	assert.Equal(t, "true", valueText(true))
	assert.Equal(t, "42", valueText(int64(42)))
	assert.Equal(t, "1.5", valueText(1.5))
	assert.Equal(t, "2001-02-03T04:05:06Z", valueText(time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)))
}

func TestXMLManyField(t *testing.T) {
	ep := &endpoint.Endpoint{
		Name: "tags",
		Schema: &endpoint.Object{Fields: []endpoint.NamedNode{
			{Name: "tag", Node: &endpoint.Field{Type: endpoint.TypeString, Column: "tag", Many: true}},
		}},
	}
	result := &engine.Result{Endpoint: ep, Data: []any{record("tag", []any{"a", "b"})}}

	var buf bytes.Buffer
	require.NoError(t, WriteXML(&buf, result, Links{}))
	assert.Equal(t,
		"<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<tags>\n  <tags>\n    <tag>a</tag>\n    <tag>b</tag>\n  </tags>\n</tags>\n",
		buf.String())
}
