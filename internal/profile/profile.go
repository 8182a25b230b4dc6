// Package profile loads YAML (or JSON) descriptions of a peripheral: its
// name, advertised services and GATT tree.
package profile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/srg/blimp/internal/gatt"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoServices      = errors.New("profile declares no services")
	ErrConflictingData = errors.New("characteristic declares more than one value source")
)

// Profile describes a peripheral.
type Profile struct {
	// Name is the advertised local name
	Name string `json:"name" yaml:"name"`

	// Advertise lists the advertised service UUIDs; empty means every service
	Advertise []string `json:"advertise,omitempty" yaml:"advertise,omitempty"`

	Services []Service `json:"services" yaml:"services"`

	baseDir  string
	services []gatt.PrimaryService
	scripts  []ScriptBinding
	adv      []uuid.UUID
}

// Service is one primary service of a profile.
type Service struct {
	UUID            string           `json:"uuid" yaml:"uuid"`
	Characteristics []Characteristic `json:"characteristics" yaml:"characteristics"`
}

// Characteristic is one characteristic of a profile service. At most one of
// Value, ValueHex and Script may be set; with none of them, requests are
// answered by the default servicer policy.
type Characteristic struct {
	UUID string `json:"uuid" yaml:"uuid"`

	// Properties is a comma-separated list such as "read,write,notify"
	Properties string `json:"properties" yaml:"properties"`

	// Secure names the properties that require an encrypted link
	Secure string `json:"secure,omitempty" yaml:"secure,omitempty"`

	// Value is a static text value
	Value *string `json:"value,omitempty" yaml:"value,omitempty"`

	// ValueHex is a static value in hex, e.g. "64" or "01 02 ff"
	ValueHex *string `json:"value_hex,omitempty" yaml:"value_hex,omitempty"`

	// Script is a Lua handler file, relative to the profile
	Script string `json:"script,omitempty" yaml:"script,omitempty"`
}

// ScriptBinding attaches a Lua script to a characteristic.
type ScriptBinding struct {
	Service        uuid.UUID
	Characteristic uuid.UUID
	Path           string
	Readable       bool
	Writable       bool
}

// Load reads and validates the profile at path. Script paths resolve
// relative to the profile's directory.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a profile. baseDir anchors relative script paths.
func Parse(data []byte, baseDir string) (*Profile, error) {
	p := &Profile{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	p.baseDir = baseDir
	if err := p.compile(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) compile() error {
	if len(p.Services) == 0 {
		return ErrNoServices
	}

	seen := make(map[uuid.UUID]bool, len(p.Services))
	for i, s := range p.Services {
		svc, err := p.compileService(s)
		if err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
		if seen[svc.UUID] {
			return fmt.Errorf("services[%d]: duplicate service %s", i, gatt.ShortUUID(svc.UUID))
		}
		seen[svc.UUID] = true
		p.services = append(p.services, svc)
	}

	if len(p.Advertise) == 0 {
		for _, svc := range p.services {
			p.adv = append(p.adv, svc.UUID)
		}
		return nil
	}
	for i, s := range p.Advertise {
		u, err := gatt.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("advertise[%d]: %w", i, err)
		}
		p.adv = append(p.adv, u)
	}
	return nil
}

func (p *Profile) compileService(s Service) (gatt.PrimaryService, error) {
	id, err := gatt.ParseUUID(s.UUID)
	if err != nil {
		return gatt.PrimaryService{}, err
	}

	chars := make([]gatt.Characteristic, 0, len(s.Characteristics))
	seen := make(map[uuid.UUID]bool, len(s.Characteristics))
	for j, c := range s.Characteristics {
		char, err := p.compileCharacteristic(id, c)
		if err != nil {
			return gatt.PrimaryService{}, fmt.Errorf("characteristics[%d]: %w", j, err)
		}
		if seen[char.UUID] {
			return gatt.PrimaryService{}, fmt.Errorf("characteristics[%d]: duplicate characteristic %s", j, gatt.ShortUUID(char.UUID))
		}
		seen[char.UUID] = true
		chars = append(chars, char)
	}
	return gatt.NewPrimaryService(id, chars...), nil
}

func (p *Profile) compileCharacteristic(service uuid.UUID, c Characteristic) (gatt.Characteristic, error) {
	id, err := gatt.ParseUUID(c.UUID)
	if err != nil {
		return gatt.Characteristic{}, err
	}
	props, err := gatt.ParseProperties(c.Properties)
	if err != nil {
		return gatt.Characteristic{}, err
	}
	if props.Empty() {
		return gatt.Characteristic{}, fmt.Errorf("characteristic %s has no properties", gatt.ShortUUID(id))
	}
	secure, err := gatt.ParseProperties(c.Secure)
	if err != nil {
		return gatt.Characteristic{}, err
	}

	sources := 0
	var value []byte
	if c.Value != nil {
		sources++
		value = []byte(*c.Value)
	}
	if c.ValueHex != nil {
		sources++
		value, err = decodeHex(*c.ValueHex)
		if err != nil {
			return gatt.Characteristic{}, fmt.Errorf("value_hex: %w", err)
		}
	}
	if c.Script != "" {
		sources++
	}
	if sources > 1 {
		return gatt.Characteristic{}, ErrConflictingData
	}

	char, err := gatt.NewCharacteristic(id, props, secure, value)
	if err != nil {
		return gatt.Characteristic{}, err
	}

	if c.Script != "" {
		path := c.Script
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.baseDir, path)
		}
		p.scripts = append(p.scripts, ScriptBinding{
			Service:        service,
			Characteristic: id,
			Path:           path,
			Readable:       props.Has(gatt.Read),
			Writable:       props.Has(gatt.Write) || props.Has(gatt.WriteWithoutResponse),
		})
	}
	return char, nil
}

// decodeHex accepts "0102ff", "01 02 ff" and "0x0102ff".
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// PrimaryServices returns the services in declaration order.
func (p *Profile) PrimaryServices() []gatt.PrimaryService {
	return append([]gatt.PrimaryService(nil), p.services...)
}

// AdvertisedUUIDs returns the service UUIDs to advertise.
func (p *Profile) AdvertisedUUIDs() []uuid.UUID {
	return append([]uuid.UUID(nil), p.adv...)
}

// Scripts returns the Lua bindings in declaration order.
func (p *Profile) Scripts() []ScriptBinding {
	return append([]ScriptBinding(nil), p.scripts...)
}
