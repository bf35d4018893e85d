package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_VersionAndHelp(t *testing.T) {
	code, out, _ := runCmd(t, "", "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "ScoreFlow "+Version)

	code, out, _ = runCmd(t, "", "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Commands:")

	code, _, errOut := runCmd(t, "", "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown command: bogus")

	code, _, _ = runCmd(t, "")
	assert.Equal(t, 1, code)
}

func TestRun_UsageErrors(t *testing.T) {
	code, _, errOut := runCmd(t, "", "deploy")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage: scoreflow deploy")
	assert.NotContains(t, errOut, "Error:")

	code, _, errOut = runCmd(t, "", "csv")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--model")
}

func TestRun_ServeRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: -1\n"), 0o644))

	code, _, errOut := runCmd(t, "", "serve", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid config")
}

func TestRun_ClientCommands(t *testing.T) {
	s, _ := startServer(t, testConfig(t))
	addr := "--addr=" + baseURL(t, s)
	dir := t.TempDir()

	modelPath := filepath.Join(dir, "pricing.yaml")
	require.NoError(t, os.WriteFile(modelPath, []byte(scoreModel), 0o644))

	code, out, errOut := runCmd(t, "", "deploy", addr, modelPath)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Deployed pricing (regression")

	code, out, _ = runCmd(t, "", "deploy", addr, "--id", "second", modelPath)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Deployed second")

	code, _, errOut = runCmd(t, "", "deploy", addr, modelPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "ALREADY_DEPLOYED")

	code, out, _ = runCmd(t, "", "list", addr)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "pricing")
	assert.Contains(t, out, "second")

	code, out, errOut = runCmd(t, "id,x\na,1\nb,2\n", "csv", addr, "--model", "pricing")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "id,score\na,3\nb,5\n", out)

	inPath := filepath.Join(dir, "in.csv")
	outPath := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(inPath, []byte("id;x\nr1;0\n"), 0o644))
	code, _, errOut = runCmd(t, "", "csv", addr, "--model", "pricing", "--in", inPath, "--out", outPath)
	require.Equal(t, 0, code, errOut)
	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "id;score\nr1;1\n", string(written))

	// 失败时不生成输出文件
	missingOut := filepath.Join(dir, "missing.csv")
	code, _, _ = runCmd(t, "id,x\na,1\n", "csv", addr, "--model", "nope", "--out", missingOut)
	assert.Equal(t, 1, code)
	assert.NoFileExists(t, missingOut)

	code, out, _ = runCmd(t, "", "health", addr)
	require.Equal(t, 0, code)
	assert.Equal(t, "OK\n", out)

	code, out, _ = runCmd(t, "", "undeploy", addr, "pricing")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Undeployed pricing")

	code, _, errOut = runCmd(t, "", "undeploy", addr, "pricing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "NOT_DEPLOYED")
}
