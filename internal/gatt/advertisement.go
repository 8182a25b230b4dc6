package gatt

import (
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Advertisement data keys, named after the CoreBluetooth dictionary keys.
const (
	AdvertisementLocalNameKey    = "kCBAdvDataLocalName"
	AdvertisementServiceUUIDsKey = "kCBAdvDataServiceUUIDs"
)

// Advertisement is an ordered key/value advertising payload.
//
// Size limits are not enforced here; a host that cannot fit the payload
// rejects it when advertising starts.
type Advertisement struct {
	data *orderedmap.OrderedMap[string, any]
}

// ComposeAdvertisement builds a payload with exactly two entries: the local
// name and the service UUIDs in canonical hyphenated form, in caller order.
func ComposeAdvertisement(name string, uuids []uuid.UUID) *Advertisement {
	services := make([]string, len(uuids))
	for i, u := range uuids {
		services[i] = u.String()
	}

	data := orderedmap.New[string, any]()
	data.Set(AdvertisementLocalNameKey, name)
	data.Set(AdvertisementServiceUUIDsKey, services)
	return &Advertisement{data: data}
}

// LocalName returns the advertised local name.
func (a *Advertisement) LocalName() string {
	v, _ := a.data.Get(AdvertisementLocalNameKey)
	name, _ := v.(string)
	return name
}

// ServiceUUIDs returns the advertised service UUID strings.
func (a *Advertisement) ServiceUUIDs() []string {
	v, _ := a.data.Get(AdvertisementServiceUUIDsKey)
	services, _ := v.([]string)
	return append([]string(nil), services...)
}

// Services parses ServiceUUIDs back into UUID values.
func (a *Advertisement) Services() ([]uuid.UUID, error) {
	strs := a.ServiceUUIDs()
	out := make([]uuid.UUID, 0, len(strs))
	for _, s := range strs {
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Len is the number of payload entries.
func (a *Advertisement) Len() int {
	return a.data.Len()
}

// Keys returns the payload keys in insertion order.
func (a *Advertisement) Keys() []string {
	keys := make([]string, 0, a.data.Len())
	for pair := a.data.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Get returns the raw value stored under key.
func (a *Advertisement) Get(key string) (any, bool) {
	return a.data.Get(key)
}

// MarshalJSON renders the payload as a JSON object in key order.
func (a *Advertisement) MarshalJSON() ([]byte, error) {
	return a.data.MarshalJSON()
}
