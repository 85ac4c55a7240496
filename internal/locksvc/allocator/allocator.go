package allocator

import (
	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	log "github.com/sirupsen/logrus"
)

// NoID is the reserved "no slot" value; it is never returned by Allocate.
const NoID = 0

// LastUsedKey is the durable key holding the allocation counter.
const LastUsedKey = "lastUsedId"

// Library is the part of the sensor gateway the allocator needs.
type Library interface {
	Capacity() int
	TemplateCount() (int, error)
	Probe(id int) (bool, error)
}

// Counter persists lastUsedId.
type Counter interface {
	GetInt(key string, fallback int) int
	PutInt(key string, value int) error
}

// Directory reports which slot ids belong to a member record. A record keeps
// its slot even when the sensor lost the template behind it.
type Directory interface {
	OwnedSlots() (map[int]string, error)
}

type Allocator struct {
	lib     Library
	counter Counter
	dir     Directory
}

// New builds an allocator. dir may be nil when no directory is kept.
func New(lib Library, counter Counter, dir Directory) *Allocator {
	return &Allocator{lib: lib, counter: counter, dir: dir}
}

func (a *Allocator) LastUsed() int {
	return a.counter.GetInt(LastUsedKey, NoID)
}

// Allocate picks a free slot id in [1, capacity-1] without committing it.
// The counter grows monotonically until the top of the range, after which
// freed ids are reused lowest first. Ids owned by a member record are never
// returned, and reuse also skips ids that still hold a template.
func (a *Allocator) Allocate() (int, error) {
	capacity := a.lib.Capacity()

	count, err := a.lib.TemplateCount()
	if err != nil {
		return NoID, errs.Wrap(errs.ErrSensorCommunication, "allocate", err)
	}
	if count >= capacity {
		return NoID, errs.New(errs.ErrSensorStorageFull, "allocate", "template count at capacity")
	}

	owned, err := a.owned()
	if err != nil {
		return NoID, err
	}

	last := a.LastUsed()
	if last < 0 {
		last = NoID
	}
	for id := last + 1; id <= capacity-1; id++ {
		if user, ok := owned[id]; ok {
			log.Warnf("allocator: slot %d above counter %d belongs to %s, skipping", id, last, user)
			continue
		}
		return id, nil
	}

	for id := 1; id <= capacity-1; id++ {
		if _, ok := owned[id]; ok {
			continue
		}
		bound, err := a.lib.Probe(id)
		if err != nil {
			return NoID, errs.Wrap(errs.ErrSensorCommunication, "allocate", err)
		}
		if !bound {
			log.Infof("allocator: reusing freed slot %d", id)
			return id, nil
		}
	}
	return NoID, errs.New(errs.ErrSensorStorageFull, "allocate", "no free slot")
}

func (a *Allocator) owned() (map[int]string, error) {
	if a.dir == nil {
		return nil, nil
	}
	return a.dir.OwnedSlots()
}

// Commit records id as used once its template is confirmed stored.
// A reused gap below the counter leaves the counter unchanged.
func (a *Allocator) Commit(id int) error {
	if id <= a.LastUsed() {
		return nil
	}
	if err := a.counter.PutInt(LastUsedKey, id); err != nil {
		return errs.Persistence("commit slot", err)
	}
	return nil
}
