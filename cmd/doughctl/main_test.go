package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"dough/services/doughd/api"
	"dough/services/doughd/auth"
)

const testSecret = "cli-secret"

var caller = common.HexToAddress("0xa11ce")

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func initProfile(t *testing.T, endpoint, role string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doughctl.toml")
	code, _, stderr := runCLI(t, "--profile", path, "init", "--endpoint", endpoint, "--address", caller.Hex(), "--role", role)
	require.Zero(t, code, stderr)
	return path
}

func TestUsageAndUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Usage: doughctl")

	code, _, stderr = runCLI(t, "--profile", filepath.Join(t.TempDir(), "none.toml"), "bogus")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown command: bogus")
}

func TestInitWritesProfileAndTokenVerifies(t *testing.T) {
	t.Setenv(secretEnv, testSecret)
	path := initProfile(t, "http://example.invalid", auth.RoleAdmin)

	p, err := loadProfile(path)
	require.NoError(t, err)
	require.Equal(t, caller.Hex(), p.Address)
	require.Equal(t, "http://example.invalid", p.Endpoint)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	code, stdout, stderr := runCLI(t, "--profile", path, "token")
	require.Zero(t, code, stderr)
	v, err := auth.NewVerifier(auth.Config{Secret: testSecret, Issuer: defaultIssuer})
	require.NoError(t, err)
	id, err := v.Parse(strings.TrimSpace(stdout))
	require.NoError(t, err)
	require.Equal(t, caller, id.Address)
	require.Equal(t, auth.RoleAdmin, id.Role)
}

func TestMissingSecretWithoutTerminal(t *testing.T) {
	original := promptSecret
	promptSecret = func() (string, error) { return "", nil }
	defer func() { promptSecret = original }()
	t.Setenv(secretEnv, "")
	require.NoError(t, os.Unsetenv(secretEnv))

	path := initProfile(t, "http://example.invalid", auth.RoleUser)
	code, _, stderr := runCLI(t, "--profile", path, "token")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "signing secret cannot be empty")
}

func TestDepositSendsAuthenticatedRequest(t *testing.T) {
	t.Setenv(secretEnv, testSecret)
	verifier, err := auth.NewVerifier(auth.Config{Secret: testSecret})
	require.NoError(t, err)

	var got api.DepositRequest
	srv := httptest.NewServer(verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/deposit", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		id, ok := auth.FromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, caller, id.Address)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(api.AmountResponse{Amount: "950", LedgerRoot: "ab"})
	})))
	defer srv.Close()

	path := initProfile(t, srv.URL, auth.RoleUser)
	code, stdout, stderr := runCLI(t, "--profile", path, "deposit", "--amount", "1000", "--approve")
	require.Zero(t, code, stderr)
	require.Equal(t, "1000", got.Amount)
	require.True(t, got.Approve)
	require.Contains(t, stdout, `"amount": "950"`)
}

func TestAPIErrorsAreReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusLocked)
		_ = json.NewEncoder(w).Encode(api.Error{Error: "vault: module paused", Kind: "paused"})
	}))
	defer srv.Close()

	token, err := auth.Issue(testSecret, "", caller, auth.RoleUser, time.Minute)
	require.NoError(t, err)
	code, _, stderr := runCLI(t, "--profile", filepath.Join(t.TempDir(), "p.toml"), "--endpoint", srv.URL, "--token", token, "redeem", "--amount", "5")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "423 paused: vault: module paused")
}

func TestAdminStrategiesBuildsTable(t *testing.T) {
	var got api.StrategiesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/v1/admin/strategies", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	code, stdout, stderr := runCLI(t, "--profile", filepath.Join(t.TempDir(), "p.toml"), "--endpoint", srv.URL, "--token", "static",
		"admin", "strategies", "--set", "aave=7000, compound=3000")
	require.Zero(t, code, stderr)
	require.Equal(t, "ok\n", stdout)
	require.Equal(t, []api.Allocation{{Strategy: "aave", WeightBps: 7000}, {Strategy: "compound", WeightBps: 3000}}, got.Strategies)
}

func TestParseHelpers(t *testing.T) {
	rows, err := parseRecipients("0xad=6000:ops,0x60=4000")
	require.NoError(t, err)
	require.Equal(t, []api.Recipient{{Address: "0xad", WeightBps: 6000, Label: "ops"}, {Address: "0x60", WeightBps: 4000}}, rows)

	_, err = parseAllocations("aave")
	require.Error(t, err)
	_, err = parseAllocations("")
	require.Error(t, err)

	fees, err := parseFees("500, 3000")
	require.NoError(t, err)
	require.Equal(t, []uint32{500, 3000}, fees)
	_, err = parseFees("-1")
	require.Error(t, err)
}
