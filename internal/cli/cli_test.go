package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const studentsYAML = `
name: students
query: SELECT id, name FROM students WHERE faculty_id = %s
key: id
pagination_enabled: true
sql_params:
  - {name: faculty_id, type: integer, position: 0}
schema:
  type: object
  fields:
    id:
      type: integer
      db_name: id
    name:
      type: string
      db_name: name
`

const brokenYAML = `
name: broken
query: SELECT id FROM t
schema:
  type: object
  fields:
    parent:
      type: select
      endpoint: nowhere
`

func writeDescriptions(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidDescriptions(t *testing.T) {
	dir := writeDescriptions(t, map[string]string{"students.yaml": studentsYAML})

	out, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 1 endpoint(s) valid")
	assert.Contains(t, out, "students")
}

func TestValidateUsesDirFlag(t *testing.T) {
	dir := writeDescriptions(t, map[string]string{"students.yaml": studentsYAML})

	out, err := execute(t, "--dir", dir, "--format", "json", "validate")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   ValidateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"students"}, resp.Data.Endpoints)
	assert.NotEmpty(t, resp.Data.Fingerprint)
}

func TestValidateReportsConfigurationErrors(t *testing.T) {
	dir := writeDescriptions(t, map[string]string{"broken.yaml": brokenYAML})

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "problem(s)")
	assert.Contains(t, out, `unknown endpoint "nowhere"`)
}

func TestValidateMissingDirectory(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.NotEmpty(t, resp.Errors)
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRenderBindsStaticParams(t *testing.T) {
	dir := writeDescriptions(t, map[string]string{"students.yaml": studentsYAML})

	out, err := execute(t, "--dir", dir, "render", "students", "--driver", "sqlite3", "--param", "faculty_id=3")
	require.NoError(t, err)
	assert.Contains(t, out, "SELECT id, name FROM students WHERE faculty_id = ?")
	assert.Contains(t, out, "$1 = 3")
}

func TestRenderPaginatesForDriver(t *testing.T) {
	dir := writeDescriptions(t, map[string]string{"students.yaml": studentsYAML})

	out, err := execute(t, "--dir", dir, "--format", "json",
		"render", "students", "--driver", "sqlserver", "-p", "faculty_id=3", "--page", "3", "--page-size", "10")
	require.NoError(t, err)

	var resp struct {
		Data RenderResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "students", resp.Data.Endpoint)
	assert.Equal(t, "sqlserver", resp.Data.Dialect)
	assert.Contains(t, resp.Data.SQL, "faculty_id = @p1")
	assert.Contains(t, resp.Data.SQL, "ORDER BY id OFFSET 30 ROWS FETCH NEXT 10 ROWS ONLY")
	assert.Len(t, resp.Data.Args, 1)
}

func TestRenderErrors(t *testing.T) {
	dir := writeDescriptions(t, map[string]string{"students.yaml": studentsYAML})

	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{"unknown endpoint", []string{"render", "teachers"}, ExitCommandError, `unknown endpoint "teachers"`},
		{"bad driver", []string{"render", "students", "--driver", "oracle"}, ExitCommandError, "invalid --driver"},
		{"missing param", []string{"render", "students"}, ExitFailure, "invalid parameters"},
		{"bad page size", []string{"render", "students", "-p", "faculty_id=1", "--page", "0", "--page-size", "0"}, ExitCommandError, "--page-size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--dir", dir}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewVersionCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "galaxyctl dev")
}

func TestSubcommandsRegistered(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"validate", "render", "version"})
	_, _, err := root.Find([]string{"render"})
	assert.NoError(t, err)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(&ExitError{Code: ExitCommandError, Message: "x"}))
}

func TestValidateExampleDescriptions(t *testing.T) {
	dir := filepath.Join("..", "..", "examples", "descriptions")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Skip("examples/descriptions directory not found")
	}

	out, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 3 endpoint(s) valid")
}
