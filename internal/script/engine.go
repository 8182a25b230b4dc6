// Package script runs Lua characteristic handlers.
//
// A script defines on_read(req) returning value [, status] and/or
// on_write(req) returning [status]. req is a table with the fields
// service, characteristic, central, offset and, for writes, value.
// Values are Lua strings holding raw bytes, or arrays of byte numbers.
package script

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/peripheral"
)

const (
	ReadFunction  = "on_read"
	WriteFunction = "on_write"
)

// LuaError represents detailed Lua execution errors
type LuaError struct {
	Type       string // "syntax", "runtime", "api"
	Message    string
	Line       int
	Source     string
	Underlying error
}

func (e *LuaError) Error() string {
	parts := []string{}
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("in %s", e.Source))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}

	prefix := "Lua error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("Lua %s error (%s)", e.Type, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *LuaError) Unwrap() error {
	return e.Underlying
}

func (e *LuaError) Is(target error) bool {
	if target == nil {
		return false
	}
	var luaErr *LuaError
	if errors.As(target, &luaErr) {
		return e.Type == luaErr.Type
	}
	return false
}

// Sentinel kinds for errors.Is checks
var (
	ErrSyntax  = &LuaError{Type: "syntax"}
	ErrRuntime = &LuaError{Type: "runtime"}
	ErrAPI     = &LuaError{Type: "api"}
)

// Engine is one Lua state serving one script. All calls into the state are
// serialized.
type Engine struct {
	state      *lua.State
	stateMutex sync.Mutex
	logger     *logrus.Logger
	name       string
	output     *outputBuffer
}

// NewEngine creates an engine with the standard libraries, the att status
// table and a print that logs.
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{logger: logger, output: newOutputBuffer(OutputBufferSize)}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrintCapture()
	e.registerStatusTable()
	return e
}

func (e *Engine) registerPrintCapture() {
	L := e.state
	L.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)

		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case L.Type(i) == lua.LUA_TNUMBER:
				parts = append(parts, fmt.Sprintf("%v", L.ToNumber(i)))
			case L.Type(i) == lua.LUA_TSTRING:
				parts = append(parts, L.ToString(i))
			default:
				// For tables, functions, threads, userdata: call Lua tostring()
				L.GetGlobal("tostring")
				L.PushValue(i)
				_ = L.Call(1, 1)
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}

		content := strings.Join(parts, "\t")
		e.logger.WithField("script", e.name).Info(content)
		e.output.add(OutputRecord{Time: time.Now(), Source: e.name, Content: content})
		return 0
	})
	L.SetGlobal("print")
}

// registerStatusTable exposes ATT status codes as att.SUCCESS,
// att.READ_NOT_PERMITTED and so on.
func (e *Engine) registerStatusTable() {
	L := e.state
	L.NewTable()
	for code := gatt.ATTSuccess; code <= gatt.ATTInsufficientResources; code++ {
		L.PushInteger(int64(code))
		L.SetField(-2, statusName(code))
	}
	L.SetGlobal("att")
}

// statusName turns "insufficient encryption" into INSUFFICIENT_ENCRYPTION.
func statusName(code gatt.ATTError) string {
	return strings.ToUpper(strings.ReplaceAll(code.String(), " ", "_"))
}

// LoadFile loads and runs a script file, defining its handlers.
func (e *Engine) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.LoadString(string(content), path)
}

// LoadString loads and runs script under name, defining its handlers.
func (e *Engine) LoadString(script, name string) error {
	if strings.TrimSpace(script) == "" {
		return &LuaError{Type: "api", Message: "empty script", Source: name}
	}

	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if e.state == nil {
		return &LuaError{Type: "api", Message: "engine closed", Source: name}
	}
	e.name = name

	L := e.state
	if status := L.LoadString(script); status != 0 {
		return e.popError("syntax", name)
	}
	if err := L.Call(0, 0); err != nil {
		return &LuaError{Type: "runtime", Message: err.Error(), Source: name, Underlying: err}
	}
	if !e.hasFunction(ReadFunction) && !e.hasFunction(WriteFunction) {
		return &LuaError{Type: "api", Message: "script defines neither on_read nor on_write", Source: name}
	}
	e.logger.WithFields(logrus.Fields{
		"script":   name,
		"on_read":  e.hasFunction(ReadFunction),
		"on_write": e.hasFunction(WriteFunction),
	}).Debug("Lua script loaded")
	return nil
}

// popError turns the error message on top of the stack into a LuaError.
func (e *Engine) popError(errType, source string) *LuaError {
	L := e.state
	if L.GetTop() == 0 {
		return &LuaError{Type: errType, Message: "unknown Lua error", Source: source}
	}

	errMsg := "non-string error object"
	if L.IsString(-1) {
		errMsg = L.ToString(-1)
	}
	L.Pop(1)

	line := 0
	message := errMsg
	if parts := strings.SplitN(errMsg, ":", 3); len(parts) == 3 {
		if parsed, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); err == nil && parsed == 1 {
			message = strings.TrimSpace(parts[2])
		}
	}
	return &LuaError{Type: errType, Message: message, Line: line, Source: source}
}

func (e *Engine) hasFunction(name string) bool {
	e.state.GetGlobal(name)
	defer e.state.Pop(1)
	return e.state.IsFunction(-1)
}

// HasFunction reports whether the loaded script defines the global function name.
func (e *Engine) HasFunction(name string) bool {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if e.state == nil {
		return false
	}
	return e.hasFunction(name)
}

// pushRequest pushes req as a table.
func pushRequest(L *lua.State, req peripheral.Request) {
	L.NewTable()
	L.PushString(req.Service.String())
	L.SetField(-2, "service")
	L.PushString(req.Characteristic.String())
	L.SetField(-2, "characteristic")
	L.PushString(req.Central)
	L.SetField(-2, "central")
	L.PushInteger(int64(req.Offset))
	L.SetField(-2, "offset")
	if req.Value != nil {
		L.PushString(string(req.Value))
		L.SetField(-2, "value")
	}
}

// call runs fn(req) and leaves nresults values on the stack. The caller
// must restore the stack top.
func (e *Engine) call(fn string, req peripheral.Request, nresults int) error {
	L := e.state
	L.GetGlobal(fn)
	if !L.IsFunction(-1) {
		L.Pop(1)
		return &LuaError{Type: "api", Message: fmt.Sprintf("function %s not defined", fn), Source: e.name}
	}
	pushRequest(L, req)
	if err := L.Call(1, nresults); err != nil {
		return &LuaError{Type: "runtime", Message: err.Error(), Source: e.name, Underlying: err}
	}
	return nil
}

// Read calls on_read(req).
func (e *Engine) Read(req peripheral.Request) ([]byte, gatt.ATTError, error) {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if e.state == nil {
		return nil, gatt.ATTUnlikelyError, &LuaError{Type: "api", Message: "engine closed", Source: e.name}
	}

	L := e.state
	top := L.GetTop()
	defer L.SetTop(top)

	if err := e.call(ReadFunction, req, 2); err != nil {
		return nil, gatt.ATTUnlikelyError, err
	}
	value, err := toBytes(L, -2)
	if err != nil {
		return nil, gatt.ATTUnlikelyError, &LuaError{Type: "api", Message: "on_read value: " + err.Error(), Source: e.name}
	}
	status, err := toStatus(L, -1)
	if err != nil {
		return nil, gatt.ATTUnlikelyError, &LuaError{Type: "api", Message: "on_read status: " + err.Error(), Source: e.name}
	}
	return value, status, nil
}

// Write calls on_write(req).
func (e *Engine) Write(req peripheral.Request) (gatt.ATTError, error) {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if e.state == nil {
		return gatt.ATTUnlikelyError, &LuaError{Type: "api", Message: "engine closed", Source: e.name}
	}

	L := e.state
	top := L.GetTop()
	defer L.SetTop(top)

	if err := e.call(WriteFunction, req, 1); err != nil {
		return gatt.ATTUnlikelyError, err
	}
	status, err := toStatus(L, -1)
	if err != nil {
		return gatt.ATTUnlikelyError, &LuaError{Type: "api", Message: "on_write status: " + err.Error(), Source: e.name}
	}
	return status, nil
}

// toBytes converts a string, a byte array table, a byte number or nil.
func toBytes(L *lua.State, idx int) ([]byte, error) {
	switch L.Type(idx) {
	case lua.LUA_TNIL:
		return []byte{}, nil
	case lua.LUA_TSTRING:
		return []byte(L.ToString(idx)), nil
	case lua.LUA_TNUMBER:
		b, err := toByte(L.ToNumber(idx))
		if err != nil {
			return nil, err
		}
		return []byte{b}, nil
	case lua.LUA_TTABLE:
		if idx < 0 {
			idx = L.GetTop() + idx + 1
		}
		n := int(L.ObjLen(idx))
		out := make([]byte, 0, n)
		for i := 1; i <= n; i++ {
			L.RawGeti(idx, i)
			if L.Type(-1) != lua.LUA_TNUMBER {
				L.Pop(1)
				return nil, fmt.Errorf("element %d is not a number", i)
			}
			b, err := toByte(L.ToNumber(-1))
			L.Pop(1)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, b)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", L.Typename(int(L.Type(idx))))
	}
}

func toByte(f float64) (byte, error) {
	if f < 0 || f > 255 || f != float64(int(f)) {
		return 0, fmt.Errorf("%v is not a byte", f)
	}
	return byte(f), nil
}

// toStatus converts nil or an ATT code number.
func toStatus(L *lua.State, idx int) (gatt.ATTError, error) {
	switch L.Type(idx) {
	case lua.LUA_TNIL:
		return gatt.ATTSuccess, nil
	case lua.LUA_TNUMBER:
		b, err := toByte(L.ToNumber(idx))
		if err != nil {
			return 0, err
		}
		return gatt.ATTError(b), nil
	default:
		return 0, fmt.Errorf("unsupported type %s", L.Typename(int(L.Type(idx))))
	}
}

// ReadHandler adapts on_read to the servicer. Script failures answer
// UnlikelyError.
func (e *Engine) ReadHandler() peripheral.ReadHandler {
	return func(req peripheral.Request) ([]byte, gatt.ATTError) {
		value, status, err := e.Read(req)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"request":       req,
				"recent_output": e.recentOutput(),
			}).Warn("Lua read handler failed")
			return nil, gatt.ATTUnlikelyError
		}
		return value, status
	}
}

// WriteHandler adapts on_write to the servicer. Script failures answer
// UnlikelyError.
func (e *Engine) WriteHandler() peripheral.WriteHandler {
	return func(req peripheral.Request) gatt.ATTError {
		status, err := e.Write(req)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"request":       req,
				"recent_output": e.recentOutput(),
			}).Warn("Lua write handler failed")
			return gatt.ATTUnlikelyError
		}
		return status
	}
}

// Close releases the Lua state.
func (e *Engine) Close() {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}
