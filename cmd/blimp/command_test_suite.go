//go:build test

package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blimp/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// batteryProfile has one static and one scripted characteristic; its
// script, level.lua, is written next to it by WriteBatteryProfile.
const batteryProfile = `
name: Gopher
services:
  - uuid: 180f
    characteristics:
      - uuid: 2a19
        properties: read,notify
        secure: notify
        value_hex: "64"
      - uuid: 2a1a
        properties: read,write
        secure: write
        script: level.lua
`

const levelScript = `
level = 42

function on_read(req)
  return { level }
end

function on_write(req)
  if #req.value ~= 1 then
    return att.INVALID_ATTRIBUTE_VALUE_LENGTH
  end
  level = string.byte(req.value)
end
`

// CommandTestSuite runs blimp commands against files in a per-test
// directory. All cmd/blimp test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Helper *testutils.TestHelper
	Dir    string
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Dir = s.T().TempDir()
	color.NoColor = true
	resetFlags(rootCmd)
}

// resetFlags restores every flag of cmd and its subcommands to its default
// so that one execution does not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// WriteFile writes content to name inside Dir and returns the full path.
func (s *CommandTestSuite) WriteFile(name, content string) string {
	path := filepath.Join(s.Dir, name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600), "test file MUST be written")
	return path
}

// WriteBatteryProfile writes batteryProfile and its script, returning the
// profile path.
func (s *CommandTestSuite) WriteBatteryProfile() string {
	s.WriteFile("level.lua", levelScript)
	return s.WriteFile("battery.yaml", batteryProfile)
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}
