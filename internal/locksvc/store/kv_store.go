package store

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"

	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
)

// Durable scalar keys kept across reboots.
const (
	KeyHaveRegistered = "haveRegistered"
	KeyHaveWiFiCred   = "haveWiFiCred"
	KeyCompanyID      = "companyID"
	KeyBranchID       = "branchID"
	KeyDeviceCode     = "deviceCode"
)

// KVStore is a small persisted key/value namespace. Every Put rewrites the
// whole file atomically.
type KVStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

func OpenKVStore(path string) (*KVStore, error) {
	kv := &KVStore{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return kv, nil
	}
	if err != nil {
		return nil, errs.Persistence("open kv", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &kv.values); err != nil {
			return nil, errs.Persistence("open kv", err)
		}
	}
	return kv, nil
}

func (kv *KVStore) GetString(key, fallback string) string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if v, ok := kv.values[key]; ok {
		return v
	}
	return fallback
}

func (kv *KVStore) PutString(key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.put(map[string]string{key: value})
}

// PutStrings sets several keys in one write.
func (kv *KVStore) PutStrings(values map[string]string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.put(values)
}

func (kv *KVStore) GetInt(key string, fallback int) int {
	v, err := strconv.Atoi(kv.GetString(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func (kv *KVStore) PutInt(key string, value int) error {
	return kv.PutString(key, strconv.Itoa(value))
}

func (kv *KVStore) GetBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(kv.GetString(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func (kv *KVStore) PutBool(key string, value bool) error {
	return kv.PutString(key, strconv.FormatBool(value))
}

// Delete removes keys in one write.
func (kv *KVStore) Delete(keys ...string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	prev := make(map[string]string, len(kv.values))
	for k, v := range kv.values {
		prev[k] = v
	}
	for _, k := range keys {
		delete(kv.values, k)
	}
	if err := kv.flush(); err != nil {
		kv.values = prev
		return err
	}
	return nil
}

func (kv *KVStore) put(values map[string]string) error {
	prev := make(map[string]string, len(kv.values))
	for k, v := range kv.values {
		prev[k] = v
	}
	for k, v := range values {
		kv.values[k] = v
	}
	if err := kv.flush(); err != nil {
		kv.values = prev
		return err
	}
	return nil
}

func (kv *KVStore) flush() error {
	data, err := json.MarshalIndent(kv.values, "", "  ")
	if err != nil {
		return errs.Persistence("write kv", err)
	}
	if err := writeFileAtomic(kv.path, data); err != nil {
		return errs.Persistence("write kv", err)
	}
	return nil
}
