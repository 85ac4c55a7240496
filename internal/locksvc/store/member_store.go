package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	log "github.com/sirupsen/logrus"
)

const (
	membersFile    = "members.json"
	quarantineFile = "members.quarantine.json"
	membersVersion = 1
)

// TemplateRevoker removes a biometric template from the sensor.
type TemplateRevoker interface {
	Revoke(slotID int) error
}

// directory is the persisted document.
type directory struct {
	Version int               `json:"version"`
	Members []json.RawMessage `json:"members"`
}

type quarantined struct {
	Record json.RawMessage `json:"record"`
	Reason string          `json:"reason"`
}

// MemberStore is the membership directory. Every mutation loads the whole
// document, changes it in memory and replaces the file.
type MemberStore struct {
	path       string
	quarantine string
	capacity   int
	revoker    TemplateRevoker
}

func NewMemberStore(dir string, capacity int, revoker TemplateRevoker) *MemberStore {
	return &MemberStore{
		path:       filepath.Join(dir, membersFile),
		quarantine: filepath.Join(dir, quarantineFile),
		capacity:   capacity,
		revoker:    revoker,
	}
}

// Load returns the valid records in directory order. Records that fail the
// schema are moved to the quarantine file and never returned.
func (s *MemberStore) Load() ([]models.MemberRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.MemberRecord{}, nil
	}
	if err != nil {
		return nil, errs.Persistence("load members", err)
	}

	var doc directory
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errs.Persistence("load members", err)
		}
	}

	members := make([]models.MemberRecord, 0, len(doc.Members))
	var bad []quarantined
	users := make(map[string]bool)
	slots := make(map[int]string)

	for _, raw := range doc.Members {
		rec, err := s.decode(raw)
		if err == nil {
			err = checkUnique(rec, users, slots)
		}
		if err != nil {
			log.Warnf("members: quarantining record: %s", err)
			bad = append(bad, quarantined{Record: raw, Reason: err.Error()})
			continue
		}
		users[rec.UserId] = true
		for _, id := range rec.Slots() {
			slots[id] = rec.UserId
		}
		members = append(members, rec)
	}

	if len(bad) > 0 {
		if err := s.moveToQuarantine(bad); err != nil {
			log.Errorf("members: quarantine write failed: %s", err)
		} else if err := s.write(members); err != nil {
			log.Errorf("members: rewrite after quarantine failed: %s", err)
		}
	}
	return members, nil
}

func (s *MemberStore) decode(raw json.RawMessage) (models.MemberRecord, error) {
	var rec models.MemberRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return rec, fmt.Errorf("decode: %w", err)
	}
	if err := rec.Validate(s.capacity); err != nil {
		return rec, err
	}
	return rec, nil
}

func checkUnique(rec models.MemberRecord, users map[string]bool, slots map[int]string) error {
	if users[rec.UserId] {
		return fmt.Errorf("user %s: duplicate userId", rec.UserId)
	}
	for _, id := range rec.Slots() {
		if owner, ok := slots[id]; ok {
			return fmt.Errorf("user %s: slot %d already bound to %s", rec.UserId, id, owner)
		}
	}
	return nil
}

// Add appends rec and rewrites the directory. rec must carry its slot ids and subsEndInSec.
func (s *MemberStore) Add(rec models.MemberRecord) error {
	if err := rec.Validate(s.capacity); err != nil {
		return errs.Malformed("add member", "%s", err)
	}

	members, err := s.Load()
	if err != nil {
		return err
	}

	users := make(map[string]bool, len(members))
	slots := make(map[int]string, len(members))
	for _, m := range members {
		users[m.UserId] = true
		for _, id := range m.Slots() {
			slots[id] = m.UserId
		}
	}
	if err := checkUnique(rec, users, slots); err != nil {
		return errs.Malformed("add member", "%s", err)
	}

	members = append(members, rec)
	if err := s.write(members); err != nil {
		return err
	}
	log.Infof("members: added %s on slot(s) %v", rec.UserId, rec.Slots())
	return nil
}

// Delete removes userId, revoking its templates first. A failed revocation is
// logged and does not keep the record: the directory stays authoritative.
func (s *MemberStore) Delete(userId string) (models.MemberRecord, error) {
	members, err := s.Load()
	if err != nil {
		return models.MemberRecord{}, err
	}

	index := -1
	for i := range members {
		if members[i].UserId == userId {
			index = i
			break
		}
	}
	if index < 0 {
		return models.MemberRecord{}, errs.New(errs.ErrNotFound, "delete member", userId)
	}
	rec := members[index]

	if s.revoker != nil {
		for _, id := range rec.Slots() {
			if err := s.revoker.Revoke(id); err != nil {
				log.Warnf("members: revoke slot %d for %s failed, template orphaned: %s", id, userId, err)
			}
		}
	}

	members = append(members[:index], members[index+1:]...)
	if err := s.write(members); err != nil {
		return models.MemberRecord{}, err
	}
	log.Infof("members: deleted %s", userId)
	return rec, nil
}

// FindBySlotID returns the record bound to slotID as primary or secondary slot.
func (s *MemberStore) FindBySlotID(slotID int) (models.MemberRecord, error) {
	members, err := s.Load()
	if err != nil {
		return models.MemberRecord{}, err
	}
	for _, m := range members {
		if m.HasSlot(slotID) {
			return m, nil
		}
	}
	return models.MemberRecord{}, errs.New(errs.ErrNotFound, "find by slot", fmt.Sprintf("slot %d", slotID))
}

// OwnedSlots maps every slot id held by a valid record to its userId.
func (s *MemberStore) OwnedSlots() (map[int]string, error) {
	members, err := s.Load()
	if err != nil {
		return nil, err
	}
	owned := make(map[int]string, len(members))
	for _, m := range members {
		for _, id := range m.Slots() {
			owned[id] = m.UserId
		}
	}
	return owned, nil
}

func (s *MemberStore) FindByUserID(userId string) (models.MemberRecord, error) {
	members, err := s.Load()
	if err != nil {
		return models.MemberRecord{}, err
	}
	for _, m := range members {
		if m.UserId == userId {
			return m, nil
		}
	}
	return models.MemberRecord{}, errs.New(errs.ErrNotFound, "find by user", userId)
}

func (s *MemberStore) write(members []models.MemberRecord) error {
	doc := directory{Version: membersVersion, Members: make([]json.RawMessage, 0, len(members))}
	for _, m := range members {
		raw, err := json.Marshal(m)
		if err != nil {
			return errs.Persistence("write members", err)
		}
		doc.Members = append(doc.Members, raw)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errs.Persistence("write members", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return errs.Persistence("write members", err)
	}
	return nil
}

func (s *MemberStore) moveToQuarantine(bad []quarantined) error {
	var existing []quarantined
	if data, err := os.ReadFile(s.quarantine); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			log.Warnf("members: unreadable quarantine file replaced: %s", err)
			existing = nil
		}
	}
	existing = append(existing, bad...)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.quarantine, data)
}
