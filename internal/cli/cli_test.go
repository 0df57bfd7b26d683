package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicely/internal/auth"
	"invoicely/internal/types"
)

const testSigningKey = "cli-test-signing-key-minimum-32-chars-long"

func newTestState(t *testing.T) *state {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("ENABLE_METRICS", "false")
	t.Setenv("NOTICE_QUEUE_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("JWT_SIGNING_KEY", testSigningKey)
	t.Setenv("LOCAL_DATA_DIR", t.TempDir())
	t.Setenv("INVOICELY_USER_ID", "")

	st := &state{}
	t.Cleanup(st.close)
	return st
}

// run executes one command line against st and returns stdout.
func run(t *testing.T, st *state, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	st.out = &out
	cmd := newRootCmd(st)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusRequiresUser(t *testing.T) {
	st := newTestState(t)
	_, err := run(t, st, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")
}

func TestUnknownOutputFormat(t *testing.T) {
	st := newTestState(t)
	_, err := run(t, st, "status", "-u", "u1", "-o", "yaml")
	require.Error(t, err)
}

func TestLocalInvoicesMigrateAndCountAgainstQuota(t *testing.T) {
	st := newTestState(t)

	_, err := run(t, st, "local", "add-invoice", "--id", "loc-1", "--number", "INV-1", "--total-cents", "1200")
	require.NoError(t, err)
	_, err = run(t, st, "local", "add-invoice", "--id", "loc-2", "--number", "INV-2")
	require.NoError(t, err)
	_, err = run(t, st, "local", "set-business", "--name", "Acme Studio", "--email", "billing@acme.test")
	require.NoError(t, err)

	out, err := run(t, st, "local", "list", "-o", "json")
	require.NoError(t, err)
	var listed []types.LocalInvoice
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed, 2)

	// Resolving a fresh account migrates the device history first.
	out, err = run(t, st, "remaining", "-u", "u1", "-o", "json")
	require.NoError(t, err)
	var rem struct {
		Count     int  `json:"count"`
		Unlimited bool `json:"unlimited"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rem))
	assert.False(t, rem.Unlimited)
	assert.Equal(t, 1, rem.Count)

	out, err = run(t, st, "migrate", "-u", "u1", "-o", "json")
	require.NoError(t, err)
	var mig types.MigrationResult
	require.NoError(t, json.Unmarshal([]byte(out), &mig))
	assert.True(t, mig.AlreadyCompleted)

	out, err = run(t, st, "status", "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Cloud invoices: 2")
	assert.Contains(t, out, "Business:      Acme Studio")

	out, err = run(t, st, "record", "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "0 remaining")

	out, err = run(t, st, "can-create", "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "no")

	_, err = run(t, st, "record", "-u", "u1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeQuotaExceeded))
}

func TestStatusText(t *testing.T) {
	st := newTestState(t)

	out, err := run(t, st, "status", "-u", "u2")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan:          free (none)")
	assert.Contains(t, out, "0 of 3 this period")
	assert.Contains(t, out, "Usage resets:")
	assert.Contains(t, out, "Cloud invoices: 0")

	out, err = run(t, st, "pro", "-u", "u2")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestRecheckWithNoDueProfiles(t *testing.T) {
	st := newTestState(t)
	out, err := run(t, st, "recheck")
	require.NoError(t, err)
	assert.Equal(t, "due 0, resolved 0, failed 0\n", out)
}

func TestTokenMint(t *testing.T) {
	st := newTestState(t)

	out, err := run(t, st, "token", "mint", "-u", "u3", "--email", "u3@example.com", "-o", "json")
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body))

	actor, err := auth.NewJWTAuthenticator(testSigningKey, "invoicely").ResolveToken(t.Context(), body["token"])
	require.NoError(t, err)
	assert.Equal(t, "u3", actor.UserID)
	assert.Equal(t, "u3@example.com", actor.Email)
}
