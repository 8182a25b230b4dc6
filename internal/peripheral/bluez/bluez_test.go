package bluez

import (
	"errors"
	"fmt"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor(t *testing.T, props, secure string, value []byte) gatt.CharacteristicDescriptor {
	t.Helper()
	p, err := gatt.ParseProperties(props)
	require.NoError(t, err)
	var s gatt.Properties
	if secure != "" {
		s, err = gatt.ParseProperties(secure)
		require.NoError(t, err)
	}
	c, err := gatt.NewCharacteristic(gatt.UUID16(0x2a19), p, s, value)
	require.NoError(t, err)
	return gatt.Build(gatt.NewPrimaryService(gatt.UUID16(0x180f), c)).Characteristics[0]
}

func TestCharFlags(t *testing.T) {
	tests := []struct {
		props, secure string
		expected      []string
	}{
		{props: "read", expected: []string{"read"}},
		{props: "read", secure: "read", expected: []string{"read", "encrypt-read"}},
		{props: "write,write-without-response", secure: "write", expected: []string{"write-without-response", "write", "encrypt-write"}},
		{props: "read,notify", secure: "notify", expected: []string{"read", "notify", "encrypt-notify"}},
		{props: "indicate", expected: []string{"indicate"}},
		{props: "indicate", secure: "indicate", expected: []string{"indicate", "encrypt-indicate"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.props, tt.secure), func(t *testing.T) {
			assert.Equal(t, tt.expected, charFlags(descriptor(t, tt.props, tt.secure, nil)))
		})
	}
}

func TestAttReply(t *testing.T) {
	assert.Nil(t, attReply(gatt.ATTSuccess))

	tests := map[gatt.ATTError]string{
		gatt.ATTReadNotPermitted:            errBluezNotPermitted,
		gatt.ATTWriteNotPermitted:           errBluezNotPermitted,
		gatt.ATTInsufficientEncryption:      errBluezNotAuthorized,
		gatt.ATTRequestNotSupported:         errBluezNotSupported,
		gatt.ATTInvalidOffset:               errBluezInvalidOffset,
		gatt.ATTInvalidAttributeValueLength: errBluezInvalidLength,
		gatt.ATTUnlikelyError:               errBluezFailed,
		gatt.ATTInvalidHandle:               errBluezFailed,
	}
	for status, name := range tests {
		reply := attReply(status)
		require.NotNil(t, reply, status.String())
		assert.Equal(t, name, reply.Name, status.String())
	}
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		state    peripheral.PowerState
	}{
		{name: "missing adapter", err: dbus.Error{Name: errUnknownObject}, sentinel: ErrAdapterNotFound, state: peripheral.Unsupported},
		{name: "no bluetoothd", err: dbus.Error{Name: errServiceUnknown}, sentinel: ErrNoBluez, state: peripheral.Unsupported},
		{name: "policy denied", err: dbus.Error{Name: errAccessDenied}, sentinel: ErrAccessDenied, state: peripheral.Unauthorized},
		{name: "adapter off", err: dbus.Error{Name: errBluezNotReady}, sentinel: peripheral.ErrNotPoweredOn, state: peripheral.PoweredOff},
		{name: "already advertising", err: dbus.Error{Name: errBluezAlreadyExists}, sentinel: peripheral.ErrAlreadyAdvertising, state: peripheral.Unsupported},
		{name: "wrapped pointer", err: fmt.Errorf("call: %w", dbus.NewError(errAccessDenied, nil)), sentinel: ErrAccessDenied, state: peripheral.Unauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := normalizeError(tt.err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.state, powerStateFor(err))
		})
	}

	plain := errors.New("dial unix /var/run/dbus/system_bus_socket: no such file")
	assert.Same(t, plain, normalizeError(plain))
	assert.Equal(t, peripheral.Unsupported, powerStateFor(normalizeError(plain)))
	assert.NoError(t, normalizeError(nil))
}

func TestOptions(t *testing.T) {
	opts := map[string]dbus.Variant{
		"offset": dbus.MakeVariant(uint16(3)),
		"device": dbus.MakeVariant(dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")),
	}
	assert.Equal(t, 3, optionOffset(opts))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", optionCentral(opts))

	assert.Equal(t, 0, optionOffset(nil))
	assert.Equal(t, "", optionCentral(nil))
	assert.Equal(t, 0, optionOffset(map[string]dbus.Variant{"offset": dbus.MakeVariant("x")}))
}

func TestPoweredChange(t *testing.T) {
	path := dbus.ObjectPath("/org/bluez/hci0")
	sig := &dbus.Signal{
		Path: path,
		Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
		Body: []interface{}{ifaceAdapter, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}, []string{}},
	}

	powered, ok := poweredChange(sig, path)
	require.True(t, ok)
	assert.False(t, powered)

	_, ok = poweredChange(sig, "/org/bluez/hci1")
	assert.False(t, ok, "other adapters MUST be ignored")

	other := *sig
	other.Body = []interface{}{ifaceAdapter, map[string]dbus.Variant{"Discoverable": dbus.MakeVariant(true)}}
	_, ok = poweredChange(&other, path)
	assert.False(t, ok, "unrelated properties MUST be ignored")

	other.Body = []interface{}{"org.bluez.Device1", map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}}
	_, ok = poweredChange(&other, path)
	assert.False(t, ok)
}

// fakeForwarder answers every request with fixed results.
type fakeForwarder struct {
	reads       []peripheral.Request
	writes      []peripheral.Request
	readStatus  gatt.ATTError
	readValue   []byte
	writeStatus gatt.ATTError
}

func (f *fakeForwarder) forwardRead(req peripheral.Request) (gatt.ATTError, []byte) {
	f.reads = append(f.reads, req)
	return f.readStatus, f.readValue
}

func (f *fakeForwarder) forwardWrite(req peripheral.Request) gatt.ATTError {
	f.writes = append(f.writes, req)
	return f.writeStatus
}

func TestApplicationObjects(t *testing.T) {
	custom := uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	level, err := gatt.NewCharacteristic(gatt.UUID16(0x2a19), gatt.NewProperties(gatt.Read), 0, nil)
	require.NoError(t, err)
	rx, err := gatt.NewCharacteristic(custom, gatt.NewProperties(gatt.Write), gatt.NewProperties(gatt.Write), nil)
	require.NoError(t, err)
	desc := gatt.Build(gatt.NewPrimaryService(gatt.UUID16(0x180f), level, rx))

	app := newApplication("/org/blimp/app1", desc, &fakeForwarder{})
	objects := app.managedObjects()
	require.Len(t, objects, 3)

	svc := objects["/org/blimp/app1/service0"][ifaceService]
	assert.Equal(t, "0000180f-0000-1000-8000-00805f9b34fb", svc["UUID"].Value())
	assert.Equal(t, true, svc["Primary"].Value())

	c1 := objects["/org/blimp/app1/service0/char1"][ifaceChar]
	assert.Equal(t, custom.String(), c1["UUID"].Value())
	assert.Equal(t, dbus.ObjectPath("/org/blimp/app1/service0"), c1["Service"].Value())
	assert.Equal(t, []string{"write", "encrypt-write"}, c1["Flags"].Value())

	require.Len(t, app.chars, 2)
	assert.Equal(t, dbus.ObjectPath("/org/blimp/app1/service0/char0"), app.chars[0].path)
}

func TestCharacteristicRead(t *testing.T) {
	fwd := &fakeForwarder{readValue: []byte("hi")}
	c := &characteristic{service: gatt.UUID16(0x180f), desc: descriptor(t, "read", "", nil), fwd: fwd}

	value, reply := c.ReadValue(map[string]dbus.Variant{
		"offset": dbus.MakeVariant(uint16(1)),
		"device": dbus.MakeVariant(dbus.ObjectPath("/org/bluez/hci0/dev_11_22_33_44_55_66")),
	})
	assert.Nil(t, reply)
	assert.Equal(t, []byte("hi"), value)
	require.Len(t, fwd.reads, 1)
	assert.Equal(t, 1, fwd.reads[0].Offset)
	assert.Equal(t, "11:22:33:44:55:66", fwd.reads[0].Central)
	assert.Equal(t, gatt.UUID16(0x2a19), fwd.reads[0].Characteristic)

	fwd.readStatus = gatt.ATTInsufficientEncryption
	_, reply = c.ReadValue(nil)
	require.NotNil(t, reply)
	assert.Equal(t, errBluezNotAuthorized, reply.Name)
}

func TestCharacteristicStaticRead(t *testing.T) {
	fwd := &fakeForwarder{}
	c := &characteristic{desc: descriptor(t, "read", "", []byte{1, 2, 3}), fwd: fwd}

	value, reply := c.ReadValue(map[string]dbus.Variant{"offset": dbus.MakeVariant(uint16(1))})
	assert.Nil(t, reply)
	assert.Equal(t, []byte{2, 3}, value)

	_, reply = c.ReadValue(map[string]dbus.Variant{"offset": dbus.MakeVariant(uint16(4))})
	require.NotNil(t, reply)
	assert.Equal(t, errBluezInvalidOffset, reply.Name)

	assert.Empty(t, fwd.reads, "static values MUST NOT reach the core")
	assert.Equal(t, errBluezNotPermitted, c.WriteValue([]byte{9}, nil).Name)
}

func TestCharacteristicWrite(t *testing.T) {
	fwd := &fakeForwarder{}
	c := &characteristic{desc: descriptor(t, "write", "", nil), fwd: fwd}

	payload := []byte{0xde, 0xad}
	assert.Nil(t, c.WriteValue(payload, nil))
	payload[0] = 0
	require.Len(t, fwd.writes, 1)
	assert.Equal(t, []byte{0xde, 0xad}, fwd.writes[0].Value, "payload MUST be copied")

	fwd.writeStatus = gatt.ATTInvalidAttributeValueLength
	assert.Equal(t, errBluezInvalidLength, c.WriteValue([]byte{1}, nil).Name)

	_, reply := c.ReadValue(nil)
	require.NotNil(t, reply)
	assert.Equal(t, errBluezNotPermitted, reply.Name)

	assert.Equal(t, errBluezNotSupported, c.StartNotify().Name)
	assert.Nil(t, c.StopNotify())
}

func TestAdvertisementProperties(t *testing.T) {
	adv := newAdvertisement("/org/blimp/advertisement1", gatt.ComposeAdvertisement("Gopher", []uuid.UUID{gatt.UUID16(0x180f)}), nil)
	props := adv.props[ifaceAdvertisement]

	assert.Equal(t, "peripheral", props["Type"].Value)
	assert.Equal(t, "Gopher", props["LocalName"].Value)
	assert.Len(t, props["ServiceUUIDs"].Value, 1)

	anonymous := newAdvertisement("/org/blimp/advertisement2", gatt.ComposeAdvertisement("", nil), nil)
	_, ok := anonymous.props[ifaceAdvertisement]["LocalName"]
	assert.False(t, ok)
	assert.Equal(t, []string{}, anonymous.props[ifaceAdvertisement]["ServiceUUIDs"].Value)

	var released *advertisement
	adv.onRelease = func(a *advertisement) { released = a }
	assert.Nil(t, adv.Release())
	assert.Same(t, adv, released)
}

func TestHost_NotOpenedRejectsSubmissions(t *testing.T) {
	original := BusFactory
	BusFactory = func() (*dbus.Conn, error) { return nil, dbus.Error{Name: errServiceUnknown} }
	t.Cleanup(func() { BusFactory = original })

	h := NewHost(nil, nil)
	sink := &chanSink{power: make(chan peripheral.PowerState, 1), started: make(chan error, 1), added: make(chan error, 1)}
	require.NoError(t, h.Open(sink))
	t.Cleanup(func() { _ = h.Close() })

	assert.Equal(t, peripheral.Unsupported, <-sink.power)

	h.StartAdvertising(gatt.ComposeAdvertisement("x", nil))
	assert.ErrorIs(t, <-sink.started, peripheral.ErrNotPoweredOn)

	h.AddService(gatt.Build(gatt.NewPrimaryService(gatt.UUID16(0x180f))))
	assert.ErrorIs(t, <-sink.added, peripheral.ErrNotPoweredOn)
	assert.False(t, h.IsAdvertising())
	assert.Error(t, h.Open(sink), "opening twice MUST fail")
}

type chanSink struct {
	power   chan peripheral.PowerState
	started chan error
	added   chan error
}

func (s *chanSink) PowerStateChanged(state peripheral.PowerState) { s.power <- state }
func (s *chanSink) AdvertisingStarted(err error) { s.started <- err }
func (s *chanSink) AdvertisingStopped(error) {}
func (s *chanSink) ServiceAdded(_ *gatt.ServiceDescriptor, err error) { s.added <- err }
func (s *chanSink) ReadRequested(peripheral.Request) {}
func (s *chanSink) WriteRequested([]peripheral.Request) {}
