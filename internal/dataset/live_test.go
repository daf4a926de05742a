package dataset

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeconnect/pkg/model"
)

func TestLiveTable_ReplacePreservesChecked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	require.NoError(t, SaveConnections(path, Connections{
		"203.0.113.7":  {RemotePort: 443, Checked: true},
		"198.51.100.2": {RemotePort: 80, Checked: true},
	}))

	lt, err := OpenLiveTable(path, zerolog.Nop())
	require.NoError(t, err)

	err = lt.Replace(Connections{
		"203.0.113.7": {RemotePort: 8443, LocalIP: "10.0.0.5", LocalPort: 50000, PID: 42},
		"192.0.2.10":  {RemotePort: 22, Checked: true},
	})
	require.NoError(t, err)

	got := lt.Snapshot()
	require.Len(t, got, 2)
	assert.True(t, got["203.0.113.7"].Checked, "existing IP keeps its flag")
	assert.Equal(t, 8443, got["203.0.113.7"].RemotePort, "other fields are last-write-wins")
	assert.False(t, got["192.0.2.10"].Checked, "new IP always starts unchecked")
	_, ok := got.Find("198.51.100.2")
	assert.False(t, ok, "absent IP is deleted")

	onDisk, err := LoadConnections(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, got, onDisk)
}

func TestLiveTable_MarkCheckedIgnoresVanishedIPs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	lt, err := OpenLiveTable(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, lt.Replace(Connections{"203.0.113.7": {RemotePort: 443}}))
	require.NoError(t, lt.MarkChecked([]string{"203.0.113.7", "198.51.100.2"}))

	got := lt.Snapshot()
	assert.Len(t, got, 1)
	assert.True(t, got["203.0.113.7"].Checked)
}

func TestLiveTable_SnapshotIsACopy(t *testing.T) {
	lt, err := OpenLiveTable(filepath.Join(t.TempDir(), "c.json"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, lt.Replace(Connections{"203.0.113.7": {RemotePort: 443}}))

	snap := lt.Snapshot()
	snap["203.0.113.7"] = model.ConnectionRecord{Checked: true}

	assert.False(t, lt.Snapshot()["203.0.113.7"].Checked)
}
