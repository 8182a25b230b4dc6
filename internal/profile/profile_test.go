package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/srg/blimp/internal/gatt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batteryProfile = `
name: Gopher
services:
  - uuid: "180f"
    characteristics:
      - uuid: "2a19"
        properties: read,notify
        secure: notify
        script: battery.lua
      - uuid: "2a1a"
        properties: read
        value_hex: "64"
  - uuid: 6e400001-b5a3-f393-e0a9-e50e24dcca9e
    characteristics:
      - uuid: 6e400002-b5a3-f393-e0a9-e50e24dcca9e
        properties: write,write-without-response
        secure: write
      - uuid: 6e400003-b5a3-f393-e0a9-e50e24dcca9e
        properties: read
        value: "hello"
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(batteryProfile), "/etc/blimp")
	require.NoError(t, err)

	assert.Equal(t, "Gopher", p.Name)

	services := p.PrimaryServices()
	require.Len(t, services, 2)
	assert.Equal(t, gatt.UUID16(0x180f), services[0].UUID)

	level := services[0].Characteristics[0]
	assert.Equal(t, gatt.UUID16(0x2a19), level.UUID)
	assert.Equal(t, gatt.NewProperties(gatt.Read, gatt.Notify), level.Properties)
	assert.Equal(t, gatt.NewProperties(gatt.Notify), level.Secure)
	assert.False(t, level.IsStatic())

	assert.Equal(t, []byte{0x64}, services[0].Characteristics[1].Value)
	assert.Equal(t, []byte("hello"), services[1].Characteristics[1].Value)
	assert.False(t, services[1].Characteristics[0].IsStatic())

	assert.Equal(t, []uuid.UUID{gatt.UUID16(0x180f), uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")}, p.AdvertisedUUIDs(),
		"without advertise every service MUST be advertised in order")

	scripts := p.Scripts()
	require.Len(t, scripts, 1)
	assert.Equal(t, filepath.Join("/etc/blimp", "battery.lua"), scripts[0].Path)
	assert.Equal(t, gatt.UUID16(0x180f), scripts[0].Service)
	assert.Equal(t, gatt.UUID16(0x2a19), scripts[0].Characteristic)
	assert.True(t, scripts[0].Readable)
	assert.False(t, scripts[0].Writable)
}

func TestParse_ExplicitAdvertise(t *testing.T) {
	p, err := Parse([]byte(`
name: Beacon
advertise: ["180a"]
services:
  - uuid: "180f"
    characteristics:
      - uuid: "2a19"
        properties: read
`), "")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{gatt.UUID16(0x180a)}, p.AdvertisedUUIDs())
}

func TestParse_JSON(t *testing.T) {
	p, err := Parse([]byte(`{"name":"J","services":[{"uuid":"180f","characteristics":[{"uuid":"2a19","properties":"read","value_hex":""}]}]}`), "")
	require.NoError(t, err)

	c := p.PrimaryServices()[0].Characteristics[0]
	assert.True(t, c.IsStatic(), "an empty value_hex MUST be a static empty value")
	assert.Empty(t, c.Value)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		target  error
		message string
	}{
		{name: "no services", yaml: "name: x", target: ErrNoServices},
		{
			name:    "bad service uuid",
			yaml:    "services: [{uuid: nope, characteristics: []}]",
			message: "services[0]",
		},
		{
			name:    "secure not subset",
			yaml:    `services: [{uuid: "180f", characteristics: [{uuid: "2a19", properties: read, secure: write}]}]`,
			target:  gatt.ErrSecureNotSubset,
			message: "services[0]: characteristics[0]",
		},
		{
			name:   "conflicting value",
			yaml:   `services: [{uuid: "180f", characteristics: [{uuid: "2a19", properties: read, value: a, script: x.lua}]}]`,
			target: ErrConflictingData,
		},
		{
			name:    "bad hex",
			yaml:    `services: [{uuid: "180f", characteristics: [{uuid: "2a19", properties: read, value_hex: zz}]}]`,
			message: "value_hex",
		},
		{
			name:    "unknown property",
			yaml:    `services: [{uuid: "180f", characteristics: [{uuid: "2a19", properties: broadcast}]}]`,
			message: "unknown characteristic property",
		},
		{
			name:    "no properties",
			yaml:    `services: [{uuid: "180f", characteristics: [{uuid: "2a19", properties: ""}]}]`,
			message: "no properties",
		},
		{
			name:    "duplicate characteristic",
			yaml:    `services: [{uuid: "180f", characteristics: [{uuid: "2a19", properties: read}, {uuid: "2a19", properties: write}]}]`,
			message: "duplicate characteristic 2a19",
		},
		{
			name:    "duplicate service",
			yaml:    `services: [{uuid: "180f", characteristics: []}, {uuid: "180F", characteristics: []}]`,
			message: "duplicate service 180f",
		},
		{
			name:    "bad advertise",
			yaml:    `advertise: [q]` + "\n" + `services: [{uuid: "180f", characteristics: []}]`,
			message: "advertise[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "")
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestDecodeHex(t *testing.T) {
	for _, in := range []string{"0102ff", "01 02 ff", "0x0102FF", "01:02:ff"} {
		b, err := decodeHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{1, 2, 0xff}, b, in)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gopher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(batteryProfile), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "battery.lua"), p.Scripts()[0].Path)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
