package blimp

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/profile"
	"github.com/srg/blimp/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleProfile(t *testing.T) {
	prof, err := profile.Parse([]byte(ExampleProfile), "/examples")
	require.NoError(t, err, "embedded profile MUST be valid")

	assert.Equal(t, "Gopher", prof.Name)
	assert.Len(t, prof.PrimaryServices(), 3)
	assert.Equal(t, []string{gatt.UUID16(0x180f).String()}, uuidStrings(prof))

	scripts := prof.Scripts()
	require.Len(t, scripts, 1)
	assert.Equal(t, filepath.Join("/examples", ExampleScriptName), scripts[0].Path)
	assert.True(t, scripts[0].Readable)
	assert.True(t, scripts[0].Writable)
}

func uuidStrings(p *profile.Profile) []string {
	var out []string
	for _, u := range p.AdvertisedUUIDs() {
		out = append(out, u.String())
	}
	return out
}

func TestExampleScript(t *testing.T) {
	logger, hook := test.NewNullLogger()
	e := script.NewEngine(logger)
	defer e.Close()
	require.NoError(t, e.LoadString(ExampleScript, ExampleScriptName))

	req := peripheral.Request{
		Service:        gatt.UUID16(0x180f),
		Characteristic: gatt.UUID16(0x2a19),
		Central:        "aa:bb:cc:dd:ee:ff",
	}
	for _, want := range []byte{100, 99} {
		value, status, err := e.Read(req)
		require.NoError(t, err)
		assert.Equal(t, gatt.ATTSuccess, status)
		assert.Equal(t, []byte{want}, value)
	}
	assert.Contains(t, hook.LastEntry().Message, "battery read by aa:bb:cc:dd:ee:ff: 99%")

	req.Value = []byte{42}
	status, err := e.Write(req)
	require.NoError(t, err)
	assert.Equal(t, gatt.ATTSuccess, status)

	value, _, err := e.Read(peripheral.Request{Central: "x"})
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, value)

	req.Value = []byte{1, 2}
	status, err = e.Write(req)
	require.NoError(t, err)
	assert.Equal(t, gatt.ATTInvalidAttributeValueLength, status)

	req.Value = []byte{200}
	status, err = e.Write(req)
	require.NoError(t, err)
	assert.Equal(t, gatt.ATTUnlikelyError, status)
}
