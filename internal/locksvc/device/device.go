// Package device holds the per-device session: the identity the cloud assigned
// and the subjects derived from it. It is created once by the service and
// passed to everything that needs it.
package device

import (
	"sync"
	"time"

	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"github.com/avvvet/doorlock-services/internal/locksvc/store"
)

type KV interface {
	GetString(key, fallback string) string
	PutStrings(values map[string]string) error
	GetBool(key string, fallback bool) bool
	Delete(keys ...string) error
}

type State struct {
	mu         sync.RWMutex
	kv         KV
	identity   models.DeviceIdentity
	registered bool

	Version    string
	InstanceID string
	StartedAt  time.Time
}

// Load restores the session from durable storage.
func Load(kv KV, version, instanceID string) *State {
	s := &State{kv: kv, Version: version, InstanceID: instanceID, StartedAt: time.Now()}
	s.registered = kv.GetBool(store.KeyHaveRegistered, false)
	if s.registered {
		s.identity = models.DeviceIdentity{
			CompanyID:  kv.GetString(store.KeyCompanyID, ""),
			BranchID:   kv.GetString(store.KeyBranchID, ""),
			DeviceCode: kv.GetString(store.KeyDeviceCode, ""),
		}
		if !s.identity.Complete() {
			s.registered = false
		}
	}
	return s
}

func (s *State) Registered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered
}

func (s *State) Identity() models.DeviceIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Register binds the device to id. It can succeed only once per device lifetime.
func (s *State) Register(id models.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return errs.New(errs.ErrRegistrationAlreadyDone, "register device", s.identity.DeviceCode)
	}
	for _, tok := range []string{id.CompanyID, id.BranchID, id.DeviceCode} {
		if !comm.ValidToken(tok) {
			return errs.Malformed("register device", "invalid identifier %q", tok)
		}
	}

	err := s.kv.PutStrings(map[string]string{
		store.KeyCompanyID:      id.CompanyID,
		store.KeyBranchID:       id.BranchID,
		store.KeyDeviceCode:     id.DeviceCode,
		store.KeyHaveRegistered: "true",
	})
	if err != nil {
		return err
	}
	s.identity = id
	s.registered = true
	return nil
}

// Reset forgets the registration and the provisioning flags. The slot
// counter stays: templates and members survive a reset.
func (s *State) Reset() error {
	return s.forget(
		store.KeyHaveRegistered,
		store.KeyHaveWiFiCred,
		store.KeyCompanyID,
		store.KeyBranchID,
		store.KeyDeviceCode,
	)
}

// Unregister undoes Register and nothing else.
func (s *State) Unregister() error {
	return s.forget(
		store.KeyHaveRegistered,
		store.KeyCompanyID,
		store.KeyBranchID,
		store.KeyDeviceCode,
	)
}

func (s *State) forget(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(keys...); err != nil {
		return err
	}
	s.identity = models.DeviceIdentity{}
	s.registered = false
	return nil
}

// CommandSubject is where the device listens for commands.
func (s *State) CommandSubject() string {
	if !s.Registered() {
		return comm.DefaultSubject
	}
	return comm.CommandSubject(s.Identity())
}

// CallbackSubject is where the device answers.
func (s *State) CallbackSubject() string {
	if !s.Registered() {
		return comm.DefaultCallback
	}
	return comm.CallbackSubject(s.Identity())
}
