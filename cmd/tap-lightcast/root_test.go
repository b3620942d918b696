package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/tap-lightcast/internal/testutil"
	"github.com/Sternrassler/tap-lightcast/pkg/lightcast"
	"github.com/Sternrassler/tap-lightcast/pkg/singer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeConfig(t *testing.T, mock *testutil.MockLightcast, extra string) string {
	t.Helper()
	cfg := `{"client_id":"client","client_secret":"secret","auth_url":"` + mock.TokenURL() +
		`","api_url":"` + mock.APIURL() + `"` + extra + `}`
	return writeFile(t, "config.json", cfg)
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func messages(t *testing.T, out string) []gjson.Result {
	t.Helper()
	var msgs []gjson.Result
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		require.True(t, gjson.Valid(sc.Text()), "stdout line is not JSON: %s", sc.Text())
		msgs = append(msgs, gjson.Parse(sc.Text()))
	}
	return msgs
}

func TestRoot_About(t *testing.T) {
	stdout, _, err := execute(t, "--about")
	require.NoError(t, err)

	var about lightcast.About
	require.NoError(t, json.Unmarshal([]byte(stdout), &about))
	assert.Equal(t, lightcast.Name, about.Name)
	assert.Contains(t, about.Capabilities, "discover")
}

func TestRoot_Discover(t *testing.T) {
	mock := testutil.NewMockLightcast("9.1", testutil.DefaultSkills())
	defer mock.Close()

	stdout, _, err := execute(t, "--config", writeConfig(t, mock, ""), "--discover")
	require.NoError(t, err)

	catalog, err := singer.ReadCatalog(strings.NewReader(stdout))
	require.NoError(t, err)
	require.Len(t, catalog.Streams, 3)
	assert.Equal(t, lightcast.StreamSkillsDetails, catalog.Streams[2].TapStreamID)
	assert.Zero(t, mock.GetRequestCount())
}

func TestRoot_Sync(t *testing.T) {
	mock := testutil.NewMockLightcast("9.1", testutil.DefaultSkills())
	defer mock.Close()

	stdout, stderr, err := execute(t, "--config", writeConfig(t, mock, `,"limit":2`))
	require.NoError(t, err)

	counts := map[string]int{}
	for _, msg := range messages(t, stdout) {
		counts[msg.Get("type").String()+":"+msg.Get("stream").String()]++
	}
	assert.Equal(t, 3, counts["SCHEMA:"+lightcast.StreamLatestVersion]+counts["SCHEMA:"+lightcast.StreamSkillsList]+counts["SCHEMA:"+lightcast.StreamSkillsDetails])
	assert.Equal(t, 1, counts["RECORD:"+lightcast.StreamLatestVersion])
	assert.Equal(t, 2, counts["RECORD:"+lightcast.StreamSkillsList])
	assert.Equal(t, 2, counts["RECORD:"+lightcast.StreamSkillsDetails])
	assert.Equal(t, 1, counts["STATE:"])

	assert.Contains(t, stderr, "run_id", "logs go to stderr")
	assert.NotContains(t, stdout, "run_id")
}

func TestRoot_SyncWithCatalogAndState(t *testing.T) {
	mock := testutil.NewMockLightcast("9.1", testutil.DefaultSkills())
	defer mock.Close()

	catalog := writeFile(t, "catalog.json", `{"streams":[{"tap_stream_id":"skills_latest_version","metadata":[{"breadcrumb":[],"metadata":{"selected":true}}]}]}`)
	state := writeFile(t, "state.json", `{"bookmarks":{"skills_list":{"replication_key":"latestVersion","replication_key_value":"9.0"}}}`)

	stdout, _, err := execute(t, "--config", writeConfig(t, mock, ""), "--catalog", catalog, "--state", state)
	require.NoError(t, err)

	var records []string
	var last gjson.Result
	for _, msg := range messages(t, stdout) {
		switch msg.Get("type").String() {
		case "RECORD":
			records = append(records, msg.Get("stream").String())
		case "STATE":
			last = msg
		}
	}
	assert.Equal(t, []string{lightcast.StreamLatestVersion}, records)
	assert.Equal(t, "9.0", last.Get("value.bookmarks.skills_list.replication_key_value").String())
	assert.Zero(t, mock.GetDetailRequests())
}

func TestRoot_InvalidConfig(t *testing.T) {
	path := writeFile(t, "config.json", `{"client_id":"client","limit":0}`)

	stdout, _, err := execute(t, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_secret")
	assert.Contains(t, err.Error(), "limit")
	assert.Empty(t, stdout)
}

func TestRoot_MissingCatalog(t *testing.T) {
	mock := testutil.NewMockLightcast("9.1", testutil.DefaultSkills())
	defer mock.Close()

	_, _, err := execute(t, "--config", writeConfig(t, mock, ""), "--catalog", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load catalog")
}

func TestRoot_SyncWithMetricsServer(t *testing.T) {
	mock := testutil.NewMockLightcast("9.1", testutil.DefaultSkills())
	defer mock.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, _, err = execute(t, "--config", writeConfig(t, mock, `,"metrics_addr":"`+addr+`"`))
	require.NoError(t, err, "metrics server stops when the sync finishes")
}

func TestRoot_MetricsBindFailureDoesNotAbortSync(t *testing.T) {
	mock := testutil.NewMockLightcast("9.1", testutil.DefaultSkills())
	defer mock.Close()

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	stdout, stderr, err := execute(t, "--config", writeConfig(t, mock, `,"limit":1,"metrics_addr":"`+taken.Addr().String()+`"`))
	require.NoError(t, err)

	var records int
	for _, msg := range messages(t, stdout) {
		if msg.Get("type").String() == "RECORD" && msg.Get("stream").String() == lightcast.StreamSkillsDetails {
			records++
		}
	}
	assert.Equal(t, 1, records)
	assert.Contains(t, stderr, "Metrics server failed")
}

func TestRoot_RejectsArgs(t *testing.T) {
	_, _, err := execute(t, "extra")
	assert.Error(t, err)
}
