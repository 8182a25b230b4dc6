//go:build test

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/srg/blimp/internal/profile"
	"github.com/srg/blimp/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type FlagsCommandTestSuite struct {
	CommandTestSuite
}

func TestFlagsCommandTestSuite(t *testing.T) {
	suite.Run(t, new(FlagsCommandTestSuite))
}

func (s *FlagsCommandTestSuite) TestText() {
	path := s.WriteBatteryProfile()

	out, err := s.ExecuteCommand("flags", path)
	s.Require().NoError(err, "flags MUST succeed on a valid profile")

	expected := fmt.Sprintf(`
Gopher

service 180f
  2a19  read,notify (secure: notify)
    capabilities  0x102  read|notify-encryption-required
    permissions   0x01   readable
    value         static 64
  2a1a  read,write (secure: write)
    capabilities  0x00a  read|write
    permissions   0x09   readable|write-encryption-required
    value         script %s

advertisement
  kCBAdvDataLocalName      Gopher
  kCBAdvDataServiceUUIDs   0000180f-0000-1000-8000-00805f9b34fb
`, filepath.Join(s.Dir, "level.lua"))

	testutils.NewTextAsserter(s.T()).Assert(out, expected)
}

func (s *FlagsCommandTestSuite) TestJSON() {
	path := s.WriteBatteryProfile()

	out, err := s.ExecuteCommand("flags", "--json", path)
	s.Require().NoError(err, "flags --json MUST succeed on a valid profile")

	testutils.NewJSONAsserter(s.T(), testutils.WithIgnoreExtraKeys(false)).Assert(out, `{
		"name": "Gopher",
		"services": [{
			"uuid": "180f",
			"characteristics": [
				{
					"uuid": "2a19",
					"properties": "read,notify",
					"secure": "notify",
					"capabilities": 258,
					"capability_names": ["read", "notify-encryption-required"],
					"permissions": 1,
					"permission_names": ["readable"],
					"source": "static",
					"value": "64"
				},
				{
					"uuid": "2a1a",
					"properties": "read,write",
					"secure": "write",
					"capabilities": 10,
					"capability_names": ["read", "write"],
					"permissions": 9,
					"permission_names": ["readable", "write-encryption-required"],
					"source": "script",
					"script": "<<PRESENCE>>"
				}
			]
		}],
		"advertisement": {
			"kCBAdvDataLocalName": "Gopher",
			"kCBAdvDataServiceUUIDs": ["0000180f-0000-1000-8000-00805f9b34fb"]
		}
	}`)
}

func (s *FlagsCommandTestSuite) TestServicerDefaultAndExplicitAdvertise() {
	path := s.WriteFile("custom.yaml", `
name: Sensor
advertise: []
services:
  - uuid: 12345678-1234-5678-1234-56789abcdef0
    characteristics:
      - uuid: 2a6e
        properties: write-without-response
`)

	out, err := s.ExecuteCommand("flags", "--json", path)
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"services": [{
			"uuid": "12345678-1234-5678-1234-56789abcdef0",
			"characteristics": [{
				"uuid": "2a6e",
				"properties": "write-without-response",
				"capabilities": 4,
				"permissions": 2,
				"permission_names": ["writeable"],
				"source": "servicer"
			}]
		}],
		"advertisement": {
			"kCBAdvDataServiceUUIDs": ["12345678-1234-5678-1234-56789abcdef0"]
		}
	}`)
	s.NotContains(out, `"secure"`, "an empty secure set MUST be omitted")
	s.NotContains(out, `"value"`, "a dynamic characteristic MUST NOT report a value")
}

func (s *FlagsCommandTestSuite) TestErrors() {
	_, err := s.ExecuteCommand("flags", filepath.Join(s.Dir, "missing.yaml"))
	s.ErrorIs(err, os.ErrNotExist)

	conflicting := s.WriteFile("conflict.yaml", `
name: X
services:
  - uuid: 180f
    characteristics:
      - uuid: 2a19
        properties: read
        value: "a"
        value_hex: "61"
`)
	_, err = s.ExecuteCommand("flags", conflicting)
	s.ErrorIs(err, profile.ErrConflictingData)

	_, err = s.ExecuteCommand("flags")
	s.Error(err, "flags MUST require a profile argument")
}
