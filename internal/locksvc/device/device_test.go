package device

import (
	"path/filepath"
	"testing"

	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"github.com/avvvet/doorlock-services/internal/locksvc/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openKV(t *testing.T, path string) *store.KVStore {
	t.Helper()
	kv, err := store.OpenKVStore(path)
	require.NoError(t, err)
	return kv
}

func TestRegisterOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.json")
	s := Load(openKV(t, path), "1.0.0", "inst")

	assert.False(t, s.Registered())
	assert.Equal(t, comm.DefaultSubject, s.CommandSubject())
	assert.Equal(t, comm.DefaultCallback, s.CallbackSubject())

	id := models.DeviceIdentity{CompanyID: "acme", BranchID: "hq", DeviceCode: "door-1"}
	require.NoError(t, s.Register(id))
	assert.Equal(t, "unimanage.acme.hq.door-1.command", s.CommandSubject())
	assert.Equal(t, "unimanage.acme.hq.door-1.callback", s.CallbackSubject())

	err := s.Register(models.DeviceIdentity{CompanyID: "x", BranchID: "y", DeviceCode: "z"})
	assert.ErrorIs(t, err, errs.ErrRegistrationAlreadyDone)
	assert.Equal(t, id, s.Identity())

	// survives a reboot
	restored := Load(openKV(t, path), "1.0.0", "inst")
	assert.True(t, restored.Registered())
	assert.Equal(t, id, restored.Identity())
}

func TestRegisterRejectsBadTokens(t *testing.T) {
	s := Load(openKV(t, filepath.Join(t.TempDir(), "nvs.json")), "1.0.0", "inst")

	err := s.Register(models.DeviceIdentity{CompanyID: "acme", BranchID: "h.q", DeviceCode: "door-1"})
	assert.ErrorIs(t, err, errs.ErrMalformedRecord)
	err = s.Register(models.DeviceIdentity{CompanyID: "acme", BranchID: "hq"})
	assert.ErrorIs(t, err, errs.ErrMalformedRecord)
	assert.False(t, s.Registered())
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.json")
	s := Load(openKV(t, path), "1.0.0", "inst")
	require.NoError(t, s.Register(models.DeviceIdentity{CompanyID: "acme", BranchID: "hq", DeviceCode: "door-1"}))

	require.NoError(t, s.Reset())
	assert.False(t, s.Registered())
	assert.Equal(t, comm.DefaultSubject, s.CommandSubject())

	restored := Load(openKV(t, path), "1.0.0", "inst")
	assert.False(t, restored.Registered())
}

func TestUnregisterKeepsProvisioning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.json")
	kv := openKV(t, path)
	require.NoError(t, kv.PutStrings(map[string]string{store.KeyHaveWiFiCred: "true"}))
	s := Load(kv, "1.0.0", "inst")
	require.NoError(t, s.Register(models.DeviceIdentity{CompanyID: "acme", BranchID: "hq", DeviceCode: "door-1"}))

	require.NoError(t, s.Unregister())
	assert.False(t, s.Registered())
	assert.Equal(t, comm.DefaultSubject, s.CommandSubject())
	assert.True(t, kv.GetBool(store.KeyHaveWiFiCred, false))

	restored := Load(openKV(t, path), "1.0.0", "inst")
	assert.False(t, restored.Registered())
	require.NoError(t, restored.Register(models.DeviceIdentity{CompanyID: "acme", BranchID: "hq", DeviceCode: "door-2"}))
}
