package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoDatabases = `
databases:
  - db: app
    version: 1
    stores:
      - name: notes
        keyPath: key
  - db: broken
    version: 1
    stores:
      - name: dup
        keyPath: key
        indexes:
          - name: idx
            keyPath: a
          - name: idx
            keyPath: b
`

// run executes one storekit invocation and returns its output
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetArgs(args)
	err := RootCmd.Execute()
	return out.String(), err
}

type resultOutput struct {
	Key    string         `json:"key"`
	State  string         `json:"state"`
	Found  *bool          `json:"found"`
	Record map[string]any `json:"record"`
	Error  string         `json:"error"`
}

func decodeResults(t *testing.T, out string) []resultOutput {
	t.Helper()
	var res []resultOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

// Every invocation is a fresh session: state only survives through the data directory.
func TestPartialFailuresArePersisted(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			schemaFile := filepath.Join(dir, "schema.yaml")
			require.NoError(t, os.WriteFile(schemaFile, []byte(twoDatabases), 0o644))
			engineFlags := []string{"--backend", backend, "--data-dir", filepath.Join(dir, "data"), "--log-level", "error"}

			// one database fails, the other one is created
			_, err := run(t, append([]string{"schema", "define", "--file", schemaFile}, engineFlags...)...)
			assert.Error(t, err)

			out, err := run(t, append([]string{"schema", "list"}, engineFlags...)...)
			require.NoError(t, err)
			assert.Contains(t, out, `"app"`)
			assert.NotContains(t, out, `"broken"`)

			// one record has no key, the other one is written
			out, err = run(t, append([]string{"record", "put", "--store", "notes", `{"key":"a","title":"kept"}`, `{"nokey":1}`}, engineFlags...)...)
			assert.Error(t, err)
			put := decodeResults(t, out)
			require.Len(t, put, 2)
			assert.Equal(t, "succeeded", put[0].State)
			assert.Equal(t, "failed", put[1].State)
			assert.NotEmpty(t, put[1].Error)

			out, err = run(t, append([]string{"record", "get", "--store", "notes", "a"}, engineFlags...)...)
			require.NoError(t, err)
			got := decodeResults(t, out)
			require.Len(t, got, 1)
			assert.Equal(t, "succeeded", got[0].State)
			require.NotNil(t, got[0].Found)
			assert.True(t, *got[0].Found, "the successful write of a partially failed put must survive")
			assert.Equal(t, "kept", got[0].Record["title"])
		})
	}
}

func TestRecordOperationsNeedDefinedStore(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "record", "get", "--store", "notes", "--backend", "memory", "--data-dir", dir, "--log-level", "error", "a")
	assert.Error(t, err)
}
