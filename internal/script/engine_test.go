package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EngineTestSuite struct {
	suite.Suite

	logger *logrus.Logger
	hook   *test.Hook
	engine *Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.logger, s.hook = test.NewNullLogger()
	s.logger.SetLevel(logrus.DebugLevel)
	s.engine = NewEngine(s.logger)
}

func (s *EngineTestSuite) TearDownTest() {
	s.engine.Close()
}

func (s *EngineTestSuite) load(code string) {
	s.Require().NoError(s.engine.LoadString(code, "test.lua"))
}

func request(value []byte) peripheral.Request {
	return peripheral.Request{
		Handle:         7,
		Service:        gatt.UUID16(0x180f),
		Characteristic: gatt.UUID16(0x2a19),
		Central:        "aa:bb:cc:dd:ee:ff",
		Offset:         1,
		Value:          value,
	}
}

func (s *EngineTestSuite) TestReadReturnsValueAndStatus() {
	cases := []struct {
		name   string
		script string
		value  []byte
		status gatt.ATTError
	}{
		{"string", `function on_read(req) return "abc" end`, []byte("abc"), gatt.ATTSuccess},
		{"byte table", `function on_read(req) return {1, 2, 255} end`, []byte{1, 2, 255}, gatt.ATTSuccess},
		{"single byte", `function on_read(req) return 100 end`, []byte{100}, gatt.ATTSuccess},
		{"nil", `function on_read(req) return nil end`, []byte{}, gatt.ATTSuccess},
		{"status", `function on_read(req) return nil, att.INSUFFICIENT_ENCRYPTION end`, []byte{}, gatt.ATTInsufficientEncryption},
		{"binary safe", `function on_read(req) return "\0\1" end`, []byte{0, 1}, gatt.ATTSuccess},
	}

	for _, c := range cases {
		s.Run(c.name, func() {
			s.engine.Close()
			s.engine = NewEngine(s.logger)
			s.load(c.script)

			value, status, err := s.engine.Read(request(nil))
			s.Require().NoError(err)
			s.Equal(c.value, value)
			s.Equal(c.status, status)
		})
	}
}

func (s *EngineTestSuite) TestReadSeesRequestFields() {
	s.load(`
function on_read(req)
  return table.concat({req.service, req.characteristic, req.central, tostring(req.offset), tostring(req.value)}, "|")
end`)

	value, _, err := s.engine.Read(request(nil))
	s.Require().NoError(err)
	s.Equal("0000180f-0000-1000-8000-00805f9b34fb|00002a19-0000-1000-8000-00805f9b34fb|aa:bb:cc:dd:ee:ff|1|nil", string(value))
}

func (s *EngineTestSuite) TestWriteKeepsStateBetweenCalls() {
	s.load(`
local last = ""
function on_write(req)
  if #req.value > 4 then return att.INVALID_ATTRIBUTE_VALUE_LENGTH end
  last = req.value
end
function on_read(req) return last end`)

	status, err := s.engine.Write(request([]byte("hey")))
	s.Require().NoError(err)
	s.Equal(gatt.ATTSuccess, status)

	status, err = s.engine.Write(request([]byte("too long")))
	s.Require().NoError(err)
	s.Equal(gatt.ATTInvalidAttributeValueLength, status)

	value, _, err := s.engine.Read(request(nil))
	s.Require().NoError(err)
	s.Equal([]byte("hey"), value)
}

func (s *EngineTestSuite) TestErrorsMapToUnlikelyError() {
	s.load(`
function on_read(req) error("boom") end
function on_write(req) return "nope" end`)

	_, _, err := s.engine.Read(request(nil))
	s.ErrorIs(err, ErrRuntime)
	s.Equal(gatt.ATTUnlikelyError, status(s.engine.ReadHandler()(request(nil))))

	_, err = s.engine.Write(request([]byte{1}))
	s.ErrorIs(err, ErrAPI)
	s.Equal(gatt.ATTUnlikelyError, s.engine.WriteHandler()(request([]byte{1})))

	s.NotEmpty(s.hook.AllEntries(), "handler failures MUST be logged")
}

func status(_ []byte, st gatt.ATTError) gatt.ATTError { return st }

func (s *EngineTestSuite) TestBadValues() {
	cases := map[string]string{
		"out of range": `function on_read(req) return 300 end`,
		"fraction":     `function on_read(req) return {1.5} end`,
		"boolean":      `function on_read(req) return true end`,
		"bad status":   `function on_read(req) return "", "x" end`,
	}
	for name, code := range cases {
		s.Run(name, func() {
			s.engine.Close()
			s.engine = NewEngine(s.logger)
			s.load(code)

			_, st, err := s.engine.Read(request(nil))
			s.ErrorIs(err, ErrAPI)
			s.Equal(gatt.ATTUnlikelyError, st)
		})
	}
}

func (s *EngineTestSuite) TestMissingHandler() {
	s.load(`function on_write(req) end`)

	s.False(s.engine.HasFunction(ReadFunction))
	s.True(s.engine.HasFunction(WriteFunction))
	_, _, err := s.engine.Read(request(nil))
	s.ErrorIs(err, ErrAPI)
}

func (s *EngineTestSuite) TestPrintIsLogged() {
	s.load(`print("hello", 42, true, nil)
function on_read(req) return "" end`)

	var printed *logrus.Entry
	for _, entry := range s.hook.AllEntries() {
		if entry.Level == logrus.InfoLevel {
			printed = entry
		}
	}
	s.Require().NotNil(printed, "print MUST log at info level")
	s.Equal("hello\t42\ttrue\tnil", printed.Message)
	s.Equal("test.lua", printed.Data["script"])
}

func (s *EngineTestSuite) TestOutputIsRetained() {
	s.load(`function on_read(req) print("read by " .. req.central) return "" end`)

	_, _, err := s.engine.Read(request(nil))
	s.Require().NoError(err)

	out := s.engine.Output()
	s.Require().Len(out, 1)
	s.Equal("read by aa:bb:cc:dd:ee:ff", out[0].Content)
	s.Equal("test.lua", out[0].Source)
	s.False(out[0].Time.IsZero())
	s.Empty(s.engine.Output(), "Output MUST drain the buffer")
}

func (s *EngineTestSuite) TestOutputOverwritesOldest() {
	s.load(`
for i = 1, 100 do print("line " .. i) end
function on_read(req) return "" end`)

	out := s.engine.Output()
	s.Require().NotEmpty(out)
	s.Less(len(out), 100)
	s.Positive(s.engine.OutputOverwritten(), "overflow MUST be counted")
	s.Equal("line 100", out[len(out)-1].Content, "newest record MUST survive")
}

func (s *EngineTestSuite) TestFailureLogCarriesRecentOutput() {
	s.load(`function on_read(req) print("about to fail") error("boom") end`)

	s.Equal(gatt.ATTUnlikelyError, status(s.engine.ReadHandler()(request(nil))))

	entry := s.hook.LastEntry()
	s.Require().NotNil(entry)
	s.Equal(logrus.WarnLevel, entry.Level)
	s.Equal("about to fail", entry.Data["recent_output"])
}

func (s *EngineTestSuite) TestLoadErrors() {
	err := s.engine.LoadString("function on_read(", "broken.lua")
	s.ErrorIs(err, ErrSyntax)
	var luaErr *LuaError
	s.Require().ErrorAs(err, &luaErr)
	s.Equal("broken.lua", luaErr.Source)
	s.Equal(1, luaErr.Line)

	s.ErrorIs(s.engine.LoadString("   ", "empty.lua"), ErrAPI)
	s.ErrorIs(s.engine.LoadString("x = 1", "nohandlers.lua"), ErrAPI)
	s.ErrorIs(s.engine.LoadString(`error("at load")`, "fails.lua"), ErrRuntime)
}

func (s *EngineTestSuite) TestClosedEngine() {
	s.load(`function on_read(req) return "x" end`)
	s.engine.Close()
	s.engine.Close()

	_, _, err := s.engine.Read(request(nil))
	s.ErrorIs(err, ErrAPI)
	s.False(s.engine.HasFunction(ReadFunction))
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "battery.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function on_read(req) return {42} end`), 0o600))

	e := NewEngine(nil)
	defer e.Close()
	require.NoError(t, e.LoadFile(path))

	value, st := e.ReadHandler()(request(nil))
	assert.Equal(t, []byte{42}, value)
	assert.Equal(t, gatt.ATTSuccess, st)

	assert.Error(t, e.LoadFile(filepath.Join(t.TempDir(), "missing.lua")))
}

func TestLuaError_Error(t *testing.T) {
	err := &LuaError{Type: "syntax", Message: "unexpected symbol", Line: 3, Source: "x.lua"}
	assert.Equal(t, "Lua syntax error (in x.lua, line 3): unexpected symbol", err.Error())
	assert.Equal(t, "Lua error: boom", (&LuaError{Type: "runtime", Message: "boom"}).Error())
}

func TestStatusName(t *testing.T) {
	assert.Equal(t, "SUCCESS", statusName(gatt.ATTSuccess))
	assert.Equal(t, "INVALID_PDU", statusName(gatt.ATTInvalidPDU))
	assert.Equal(t, "INSUFFICIENT_ENCRYPTION_KEY_SIZE", statusName(gatt.ATTInsufficientEncryptionKeySize))
}
