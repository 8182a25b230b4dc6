package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/gatt"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Characteristic builds a characteristic from short strings, failing the
// test on bad input: Characteristic("2a19", "read,notify", "notify", nil).
func (h *TestHelper) Characteristic(id, props, secure string, value []byte) gatt.Characteristic {
	h.T.Helper()

	u, err := gatt.ParseUUID(id)
	if err != nil {
		h.T.Fatalf("bad characteristic UUID: %v", err)
	}
	p, err := gatt.ParseProperties(props)
	if err != nil {
		h.T.Fatalf("bad properties: %v", err)
	}
	s, err := gatt.ParseProperties(secure)
	if err != nil {
		h.T.Fatalf("bad secure properties: %v", err)
	}
	c, err := gatt.NewCharacteristic(u, p, s, value)
	if err != nil {
		h.T.Fatalf("invalid characteristic: %v", err)
	}
	return c
}

// Service builds a primary service from a short UUID and characteristics.
func (h *TestHelper) Service(id string, chars ...gatt.Characteristic) gatt.PrimaryService {
	h.T.Helper()

	u, err := gatt.ParseUUID(id)
	if err != nil {
		h.T.Fatalf("bad service UUID: %v", err)
	}
	return gatt.NewPrimaryService(u, chars...)
}

// BatteryService is a battery level service with one dynamic and one
// static read-only characteristic.
func (h *TestHelper) BatteryService() gatt.PrimaryService {
	return h.Service("180f",
		h.Characteristic("2a19", "read,write,notify", "", nil),
		h.Characteristic("2a1a", "read", "", []byte{0x64}),
	)
}

// ProjectFile reads a file relative to the module root.
func ProjectFile(relPath string) ([]byte, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// Navigate up to find the project root (look for go.mod file)
	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return nil, fmt.Errorf("could not find project root (go.mod not found)")
		}
		projectRoot = parent
	}

	fullPath := filepath.Join(projectRoot, relPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}
	return data, nil
}
