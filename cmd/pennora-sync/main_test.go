package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
	"github.com/Andival-Sei/pennora/backend/internal/models"
)

// run executes the CLI against dataDir and returns stdout.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--data-dir", dataDir, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "dirty: false")
	assert.NotContains(t, out, "schema version 0 ")
}

func TestQueue_EnqueueListRemove(t *testing.T) {
	dir := t.TempDir()

	id, err := run(t, dir, "queue", "enqueue", "accounts", "create", "--data", `{"name":"Cash"}`)
	require.NoError(t, err)
	id = strings.TrimSpace(id)
	require.NotEmpty(t, id)

	_, err = run(t, dir, "queue", "enqueue", "accounts", "delete", "--record-id", "a-1")
	require.NoError(t, err)

	out, err := run(t, dir, "queue", "list")
	require.NoError(t, err)
	var ops []models.QueueOperation
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	require.Len(t, ops, 2)
	assert.Equal(t, id, ops[0].ID)
	assert.Equal(t, models.OperationCreate, ops[0].Operation)
	assert.JSONEq(t, `{"name":"Cash"}`, string(ops[0].Data))
	assert.Equal(t, models.OperationDelete, ops[1].Operation)
	require.NotNil(t, ops[1].RecordID)
	assert.Equal(t, "a-1", *ops[1].RecordID)

	out, err = run(t, dir, "queue", "next")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = run(t, dir, "queue", "status")
	require.NoError(t, err)
	var status models.QueueStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 2, status.Pending)

	_, err = run(t, dir, "queue", "remove", "not-an-id")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = run(t, dir, "queue", "remove", id)
	require.NoError(t, err)

	out, err = run(t, dir, "queue", "list", "--table", "accounts")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	assert.Len(t, ops, 1)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
		code apperrors.ErrorCode
	}{
		{"unknown table", []string{"wallets", "create"}, apperrors.ErrUnknownTable},
		{"unknown operation", []string{"accounts", "upsert"}, apperrors.ErrUnknownOperation},
		{"update without record id", []string{"accounts", "update"}, apperrors.ErrRecordIDRequired},
		{"create with record id", []string{"accounts", "create", "--record-id", "x"}, apperrors.ErrValidation},
		{"invalid json", []string{"accounts", "create", "--data", "{"}, apperrors.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, dir, append([]string{"queue", "enqueue"}, tt.args...)...)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestQueue_ClearRequiresConfirmation(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "queue", "enqueue", "goals", "create")
	require.NoError(t, err)

	_, err = run(t, dir, "queue", "clear")
	require.Error(t, err)

	out, err := run(t, dir, "queue", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "queue cleared")

	out, err = run(t, dir, "queue", "next")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")
}

func TestSync_NotConfigured(t *testing.T) {
	t.Setenv("PENNORA_REMOTE_URL", "")

	_, err := run(t, t.TempDir(), "sync")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncNotConfigured))
}

func TestSync_ReplaysAgainstREST(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	t.Setenv("PENNORA_REMOTE_URL", srv.URL)
	t.Setenv("PENNORA_REMOTE_API_KEY", "anon")

	dir := t.TempDir()
	_, err := run(t, dir, "queue", "enqueue", "accounts", "create", "--data", `{"id":"a-1","name":"Cash"}`)
	require.NoError(t, err)
	_, err = run(t, dir, "queue", "enqueue", "budgets", "create")
	require.NoError(t, err)

	out, err := run(t, dir, "sync", "--table", "accounts")
	require.NoError(t, err)
	var result models.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, int32(1), hits.Load())

	out, err = run(t, dir, "queue", "status")
	require.NoError(t, err)
	var status models.QueueStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Total)
	assert.NotNil(t, status.LastSyncTime)
}
