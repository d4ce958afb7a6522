package cot

import (
	"sync"

	"github.com/google/uuid"
)

// identityNamespace is the fixed UUIDv5 namespace for device identity
// derivation. The value is carried over from the deployed fleet; changing it
// would re-identify every tracker on the TAK server.
var identityNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// deviceUID derives the stable CoT UID for a device id.
func deviceUID(deviceID string) string {
	return "GPGGA-" + uuid.NewSHA1(identityNamespace, []byte("gpgga-device-"+deviceID)).String()
}

// identityCache maps device ids to derived UIDs for the life of the process.
// Lookups vastly outnumber inserts; the read-check-then-insert path is atomic
// per device id so a device racing its own first two reports cannot be
// assigned two different UIDs.
type identityCache struct {
	mu   sync.RWMutex
	uids map[string]string
}

func newIdentityCache() *identityCache {
	return &identityCache{uids: make(map[string]string)}
}

// lookup returns the UID for deviceID, deriving and storing it on first
// sighting. created reports whether this call performed the derivation.
func (c *identityCache) lookup(deviceID string) (uid string, created bool) {
	c.mu.RLock()
	uid, ok := c.uids[deviceID]
	c.mu.RUnlock()
	if ok {
		return uid, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if uid, ok = c.uids[deviceID]; ok {
		return uid, false
	}
	uid = deviceUID(deviceID)
	c.uids[deviceID] = uid
	return uid, true
}

func (c *identityCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.uids)
}
