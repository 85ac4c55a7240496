package sensor

import (
	"sort"
	"sync"
)

// Op names a Sensor call for fault injection.
type Op string

const (
	OpTemplateCount Op = "templateCount"
	OpGetImage      Op = "getImage"
	OpImage2Tz      Op = "image2Tz"
	OpCreateModel   Op = "createModel"
	OpStoreModel    Op = "storeModel"
	OpLoadModel     Op = "loadModel"
	OpSearch        Op = "search"
	OpDeleteModel   Op = "deleteModel"
)

// Simulator is an in-memory fingerprint module. A finger is an opaque string;
// two captures match when the strings are equal. Captures are consumed from a
// feed, where "" means no finger on the glass.
type Simulator struct {
	mu       sync.Mutex
	capacity int
	slots    map[int]string
	feed     []string
	image    string
	buffers  [3]string
	faults   map[Op][]Code
}

func NewSimulator(capacity int) *Simulator {
	return &Simulator{
		capacity: capacity,
		slots:    make(map[int]string),
		faults:   make(map[Op][]Code),
	}
}

// Feed queues captures for subsequent GetImage calls.
func (s *Simulator) Feed(fingers ...string) {
	s.mu.Lock()
	s.feed = append(s.feed, fingers...)
	s.mu.Unlock()
}

// PresentForEnroll queues place, lift, place for one finger.
func (s *Simulator) PresentForEnroll(finger string) {
	s.Feed(finger, "", finger)
}

// Fail makes the next call to op return code.
func (s *Simulator) Fail(op Op, code Code) {
	s.mu.Lock()
	s.faults[op] = append(s.faults[op], code)
	s.mu.Unlock()
}

// Bind stores a template directly, bypassing enrollment.
func (s *Simulator) Bind(id int, finger string) {
	s.mu.Lock()
	s.slots[id] = finger
	s.mu.Unlock()
}

// Bound returns the finger stored at id, or "".
func (s *Simulator) Bound(id int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[id]
}

// BoundIDs lists occupied locations in ascending order.
func (s *Simulator) BoundIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Simulator) fault(op Op) (Code, bool) {
	q := s.faults[op]
	if len(q) == 0 {
		return CodeOK, false
	}
	s.faults[op] = q[1:]
	return q[0], true
}

func (s *Simulator) inRange(id int) bool {
	return id >= 0 && id < s.capacity
}

func (s *Simulator) Capacity() int {
	return s.capacity
}

func (s *Simulator) TemplateCount() (int, Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.fault(OpTemplateCount); ok {
		return 0, code
	}
	return len(s.slots), CodeOK
}

func (s *Simulator) GetImage() Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.fault(OpGetImage); ok {
		return code
	}
	if len(s.feed) == 0 {
		return CodeNoFinger
	}
	finger := s.feed[0]
	s.feed = s.feed[1:]
	if finger == "" {
		return CodeNoFinger
	}
	s.image = finger
	return CodeOK
}

func (s *Simulator) Image2Tz(buffer int) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.fault(OpImage2Tz); ok {
		return code
	}
	if buffer != 1 && buffer != 2 {
		return CodeInvalidImage
	}
	if s.image == "" {
		return CodeInvalidImage
	}
	s.buffers[buffer] = s.image
	return CodeOK
}

func (s *Simulator) CreateModel() Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.fault(OpCreateModel); ok {
		return code
	}
	if s.buffers[1] == "" || s.buffers[1] != s.buffers[2] {
		return CodeEnrollMismatch
	}
	return CodeOK
}

func (s *Simulator) StoreModel(id int) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.fault(OpStoreModel); ok {
		return code
	}
	if !s.inRange(id) {
		return CodeBadLocation
	}
	s.slots[id] = s.buffers[1]
	return CodeOK
}

func (s *Simulator) LoadModel(id int) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.fault(OpLoadModel); ok {
		return code
	}
	if !s.inRange(id) {
		return CodeBadLocation
	}
	if _, ok := s.slots[id]; !ok {
		return CodeDBReadFail
	}
	return CodeOK
}

func (s *Simulator) FingerSearch() (int, int, Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.fault(OpSearch); ok {
		return 0, 0, code
	}
	best := -1
	for id, finger := range s.slots {
		if finger == s.buffers[1] && (best == -1 || id < best) {
			best = id
		}
	}
	if best == -1 {
		return 0, 0, CodeNotFound
	}
	return best, 100, CodeOK
}

func (s *Simulator) DeleteModel(id int) Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.fault(OpDeleteModel); ok {
		return code
	}
	if !s.inRange(id) {
		return CodeBadLocation
	}
	delete(s.slots, id)
	return CodeOK
}
