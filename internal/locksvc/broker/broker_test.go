package broker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/allocator"
	"github.com/avvvet/doorlock-services/internal/locksvc/clock"
	"github.com/avvvet/doorlock-services/internal/locksvc/device"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"github.com/avvvet/doorlock-services/internal/locksvc/sensor"
	"github.com/avvvet/doorlock-services/internal/locksvc/service"
	"github.com/avvvet/doorlock-services/internal/locksvc/store"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu         sync.Mutex
	published  []published
	subscribed []string
	refuse     map[string]error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{subject, data})
	return nil
}

func (c *fakeConn) Subscribe(subject string, _ nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refuse[subject]; err != nil {
		return nil, err
	}
	c.subscribed = append(c.subscribed, subject)
	return nil, nil
}

func (c *fakeConn) last(t *testing.T) (string, comm.RawResponse) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.published)
	p := c.published[len(c.published)-1]
	resp := comm.RawResponse{}
	require.NoError(t, json.Unmarshal(p.data, &resp))
	return p.subject, resp
}

type fixture struct {
	broker *Broker
	conn   *fakeConn
	sim    *sensor.Simulator
	state  *device.State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	kv, err := store.OpenKVStore(filepath.Join(dir, "nvs.json"))
	require.NoError(t, err)

	sim := sensor.NewSimulator(8)
	gw := sensor.NewGateway(sim, sensor.Options{
		PollInterval:  time.Millisecond,
		EnrollTimeout: 30 * time.Millisecond,
		MatchWait:     10 * time.Millisecond,
	})
	members := store.NewMemberStore(dir, gw.Capacity(), gw)
	svc := service.NewAccessService(
		gw,
		allocator.New(gw, kv, members),
		members,
		store.NewAttendanceLog(filepath.Join(dir, "attendance")),
		clock.NewFake(time.Date(2029, 6, 1, 9, 0, 0, 0, time.UTC).Unix()),
		&service.LogActuator{},
		service.Options{Location: time.UTC, UnlockDuration: time.Millisecond, DataDir: dir, StorageCapacity: 1 << 20},
	)
	state := device.Load(kv, "1.2.3", "instance-1")
	conn := &fakeConn{}
	b := NewBroker(conn, svc, state)
	require.NoError(t, b.Listen(context.Background()))

	return &fixture{broker: b, conn: conn, sim: sim, state: state}
}

func (f *fixture) send(t *testing.T, cmd string) (string, comm.RawResponse) {
	t.Helper()
	f.broker.HandleCommand(context.Background(), []byte(cmd))
	return f.conn.last(t)
}

const registerCmd = `{"type":"registerDevice","requestId":"r1","companyID":"acme","branchID":"hq","deviceCode":"door-1"}`

func TestListenUsesDefaultSubject(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{comm.DefaultSubject}, f.conn.subscribed)
}

func TestInvalidCommand(t *testing.T) {
	f := newFixture(t)

	for _, cmd := range []string{`{"type":"openDoor","requestId":"x"}`, `not json`, `{}`} {
		subject, resp := f.send(t, cmd)
		assert.Equal(t, comm.DefaultCallback, subject)
		assert.Equal(t, comm.TypeError, resp.Type)
		assert.Equal(t, comm.StatusFailed, resp.Status)
		assert.Equal(t, "Invalid command", resp.Message)
	}
}

func TestRegisterDevice(t *testing.T) {
	f := newFixture(t)
	changed := 0
	f.broker.OnIdentityChange = func() { changed++ }

	subject, resp := f.send(t, registerCmd)
	assert.Equal(t, "unimanage.acme.hq.door-1.callback", subject)
	assert.Equal(t, comm.StatusSuccess, resp.Status)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, []string{comm.DefaultSubject, "unimanage.acme.hq.door-1.command"}, f.conn.subscribed)
	assert.Equal(t, 1, changed)

	subject, resp = f.send(t, `{"type":"registerDevice","companyID":"evil","branchID":"hq","deviceCode":"door-9"}`)
	assert.Equal(t, "unimanage.acme.hq.door-1.callback", subject)
	assert.Equal(t, comm.StatusFailed, resp.Status)
	assert.Equal(t, "registration_already_done", resp.Code)
	assert.Equal(t, "door-1", f.state.Identity().DeviceCode)
	assert.Equal(t, 1, changed)
}

func TestRegisterDeviceRollsBackWhenSubscribeFails(t *testing.T) {
	f := newFixture(t)
	changed := 0
	f.broker.OnIdentityChange = func() { changed++ }
	f.conn.refuse = map[string]error{"unimanage.acme.hq.door-1.command": errors.New("permissions violation")}

	subject, resp := f.send(t, registerCmd)
	assert.Equal(t, comm.DefaultCallback, subject)
	assert.Equal(t, comm.StatusFailed, resp.Status)
	assert.Contains(t, resp.Message, "permissions violation")
	assert.False(t, f.state.Registered())
	assert.Equal(t, []string{comm.DefaultSubject}, f.conn.subscribed)
	assert.Equal(t, 0, changed)

	f.conn.refuse = nil
	subject, resp = f.send(t, registerCmd)
	assert.Equal(t, "unimanage.acme.hq.door-1.callback", subject)
	assert.Equal(t, comm.StatusSuccess, resp.Status)
}

func TestRegisterDeviceRejectsBadIdentity(t *testing.T) {
	f := newFixture(t)

	subject, resp := f.send(t, `{"type":"registerDevice","companyID":"acme","branchID":"h.q","deviceCode":"door-1"}`)
	assert.Equal(t, comm.DefaultCallback, subject)
	assert.Equal(t, comm.StatusFailed, resp.Status)
	assert.Equal(t, "malformed_record", resp.Code)
	assert.False(t, f.state.Registered())
}

func TestEnrollAndDeleteUser(t *testing.T) {
	f := newFixture(t)
	f.send(t, registerCmd)
	f.sim.PresentForEnroll("alice")

	subject, resp := f.send(t, `{"type":"enrollUser","requestId":"e1","userId":"u1","name":"Ann","userType":"Standard","subscriptionEnd":"2029-12-31"}`)
	assert.Equal(t, "unimanage.acme.hq.door-1.callback", subject)
	require.Equal(t, comm.StatusSuccess, resp.Status, resp.Message)
	result := comm.EnrollResult{}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, "u1", result.UserId)
	assert.Equal(t, 1, result.PunchingId1)

	_, resp = f.send(t, `{"type":"deleteUser","userId":"u1"}`)
	assert.Equal(t, comm.StatusSuccess, resp.Status)
	assert.Empty(t, f.sim.BoundIDs())

	_, resp = f.send(t, `{"type":"deleteUser","userId":"u1"}`)
	assert.Equal(t, comm.StatusFailed, resp.Status)
	assert.Equal(t, "not_found", resp.Code)
}

func TestEnrollFailureIsReported(t *testing.T) {
	f := newFixture(t)

	_, resp := f.send(t, `{"type":"enrollUser","userId":"u1","userType":"Standard","subscriptionEnd":"2029-12-31"}`)
	assert.Equal(t, comm.TypeEnrollUser, resp.Type)
	assert.Equal(t, comm.StatusFailed, resp.Status)
	assert.Equal(t, "no_finger", resp.Code)

	_, resp = f.send(t, `{"type":"enrollUser","userId":5}`)
	assert.Equal(t, comm.StatusFailed, resp.Status)
	assert.Equal(t, "malformed_record", resp.Code)
}

func TestDeviceInfoAndStorage(t *testing.T) {
	f := newFixture(t)

	_, resp := f.send(t, `{"type":"deviceInfo"}`)
	require.Equal(t, comm.StatusSuccess, resp.Status)
	info := comm.DeviceInfo{}
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.False(t, info.Registered)
	assert.Equal(t, 8, info.SensorCapacity)

	_, resp = f.send(t, `{"type":"spiffsStatus"}`)
	require.Equal(t, comm.StatusSuccess, resp.Status)
	st := comm.StorageStatus{}
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, int64(1<<20), st.TotalBytes)
}

func TestResetDevice(t *testing.T) {
	f := newFixture(t)
	f.send(t, registerCmd)

	subject, resp := f.send(t, `{"type":"resetDevice"}`)
	assert.Equal(t, "unimanage.acme.hq.door-1.callback", subject)
	assert.Equal(t, comm.StatusSuccess, resp.Status)
	assert.False(t, f.state.Registered())
	assert.Equal(t, comm.DefaultSubject, f.conn.subscribed[len(f.conn.subscribed)-1])

	_, resp = f.send(t, registerCmd)
	assert.Equal(t, comm.StatusSuccess, resp.Status)
}

func TestPublishAccess(t *testing.T) {
	f := newFixture(t)
	f.send(t, registerCmd)

	ev := f.broker.PublishAccess(&service.Decision{
		SlotID:    3,
		Member:    &models.MemberRecord{UserId: "u1", Name: "Ann"},
		Status:    models.StatusAuthorized,
		Epoch:     1700000000,
		Timestamp: "2023-11-14 22:13:20",
	})
	assert.NotEmpty(t, ev.EventID)

	subject, resp := f.conn.last(t)
	assert.Equal(t, "unimanage.acme.hq.door-1.callback", subject)
	assert.Equal(t, comm.TypeAttendance, resp.Type)

	got := comm.AttendanceEvent{}
	f.conn.mu.Lock()
	require.NoError(t, json.Unmarshal(f.conn.published[len(f.conn.published)-1].data, &got))
	f.conn.mu.Unlock()
	assert.Equal(t, ev, got)
	assert.Equal(t, "door-1", got.DeviceCode)
}

func TestHandlerPanicStillAnswersOnce(t *testing.T) {
	f := newFixture(t)
	b := NewBroker(f.conn, nil, f.state)

	resp := b.HandleCommand(context.Background(), []byte(`{"type":"spiffsStatus","requestId":"p1"}`))
	assert.Equal(t, comm.StatusFailed, resp.Status)
	assert.Contains(t, resp.Message, "internal error")

	f.conn.mu.Lock()
	count := len(f.conn.published)
	f.conn.mu.Unlock()
	assert.Equal(t, 1, count)

	subject, got := f.conn.last(t)
	assert.Equal(t, comm.DefaultCallback, subject)
	assert.Equal(t, comm.TypeSpiffsStatus, got.Type)
	assert.Equal(t, "p1", got.RequestID)
	assert.Equal(t, "internal", got.Code)
}

func TestPublishStatus(t *testing.T) {
	f := newFixture(t)
	f.broker.PublishStatus(comm.StatusSuccess, "connected")

	subject, resp := f.conn.last(t)
	assert.Equal(t, comm.DefaultCallback, subject)
	assert.Equal(t, comm.TypeMqttStatus, resp.Type)
	assert.Equal(t, comm.StatusSuccess, resp.Status)
}
