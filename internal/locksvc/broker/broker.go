package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/device"
	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	"github.com/avvvet/doorlock-services/internal/locksvc/service"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Conn is the part of *nats.Conn the broker uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Broker routes commands arriving on the device command subject to the
// access service and answers each one on the callback subject.
type Broker struct {
	Conn          Conn
	AccessService *service.AccessService
	Device        *device.State

	// OnIdentityChange runs after a successful registration or reset.
	OnIdentityChange func()

	ctx   context.Context
	subMu sync.Mutex
	sub   *nats.Subscription
}

func NewBroker(conn Conn, accessService *service.AccessService, state *device.State) *Broker {
	return &Broker{
		Conn:          conn,
		AccessService: accessService,
		Device:        state,
		ctx:           context.Background(),
	}
}

// Listen subscribes to the command subject for the current registration state.
func (b *Broker) Listen(ctx context.Context) error {
	b.ctx = ctx
	return b.rebind()
}

// Close drops the command subscription.
func (b *Broker) Close() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			log.Warnf("broker: unsubscribe %s: %s", b.sub.Subject, err)
		}
		b.sub = nil
	}
}

func (b *Broker) rebind() error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	subject := b.Device.CommandSubject()
	sub, err := b.Conn.Subscribe(subject, b.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			log.Warnf("broker: unsubscribe %s: %s", b.sub.Subject, err)
		}
	}
	b.sub = sub
	log.Infof("broker: listening on %s", subject)
	return nil
}

func (b *Broker) handleMessage(msg *nats.Msg) {
	b.HandleCommand(b.ctx, msg.Data)
}

// HandleCommand processes one inbound document and publishes exactly one
// response for it.
func (b *Broker) HandleCommand(ctx context.Context, data []byte) comm.Response {
	replyTo := b.Device.CallbackSubject()
	resp := b.dispatch(ctx, data)
	if resp.Type == comm.TypeRegisterDevice && resp.Status == comm.StatusSuccess {
		replyTo = b.Device.CallbackSubject()
	}
	b.PublishJSON(replyTo, resp)
	return resp
}

func (b *Broker) dispatch(ctx context.Context, data []byte) (resp comm.Response) {
	env := comm.Envelope{}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warnf("broker: undecodable command: %s", err)
		return invalidCommand(env)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("broker: %s handler panic: %v", env.Type, r)
			resp = failed(env, fmt.Errorf("internal error: %v", r))
		}
	}()

	switch env.Type {
	case comm.TypeRegisterDevice:
		req := comm.RegisterRequest{}
		if err := json.Unmarshal(data, &req); err != nil {
			return failed(env, errs.Malformed("register device", "%s", err))
		}
		return b.register(env, req)
	case comm.TypeEnrollUser:
		req := comm.EnrollRequest{}
		if err := json.Unmarshal(data, &req); err != nil {
			return failed(env, errs.Malformed("enroll", "%s", err))
		}
		return b.enroll(ctx, env, req)
	case comm.TypeDeleteUser:
		req := comm.DeleteRequest{}
		if err := json.Unmarshal(data, &req); err != nil {
			return failed(env, errs.Malformed("delete", "%s", err))
		}
		rec, err := b.AccessService.Delete(req.UserId)
		if err != nil {
			return failed(env, err)
		}
		return success(env, "user deleted", map[string]any{"userId": rec.UserId, "released": rec.Slots()})
	case comm.TypeSpiffsStatus:
		st, err := b.AccessService.Storage()
		if err != nil {
			return failed(env, err)
		}
		return success(env, "", st)
	case comm.TypeDeviceInfo:
		info, err := b.Info()
		if err != nil {
			return failed(env, err)
		}
		return success(env, "", info)
	case comm.TypeResetDevice:
		return b.reset(env)
	default:
		log.Warnf("broker: invalid command type %q", env.Type)
		return invalidCommand(env)
	}
}

func (b *Broker) register(env comm.Envelope, req comm.RegisterRequest) comm.Response {
	id := req.Identity()
	if err := b.Device.Register(id); err != nil {
		log.Warnf("broker: register device: %s", err)
		return failed(env, err)
	}
	if err := b.rebind(); err != nil {
		log.Errorf("broker: %s, rolling back registration", err)
		if uerr := b.Device.Unregister(); uerr != nil {
			log.Errorf("broker: roll back registration: %s", uerr)
		}
		return failed(env, err)
	}
	log.Infof("broker: registered as %s/%s/%s", id.CompanyID, id.BranchID, id.DeviceCode)
	b.identityChanged()
	return success(env, "device registered", id)
}

func (b *Broker) enroll(ctx context.Context, env comm.Envelope, req comm.EnrollRequest) comm.Response {
	rec, err := b.AccessService.Enroll(ctx, req)
	if err != nil {
		log.Warnf("broker: enroll %s: %s", req.UserId, err)
		return failed(env, err)
	}
	return success(env, "user enrolled", comm.EnrollResult{
		UserId:       rec.UserId,
		PunchingId1:  rec.PunchingId1,
		PunchingId2:  rec.PunchingId2,
		SubsEndInSec: rec.SubsEndInSec,
	})
}

func (b *Broker) reset(env comm.Envelope) comm.Response {
	if err := b.Device.Reset(); err != nil {
		return failed(env, err)
	}
	if err := b.rebind(); err != nil {
		log.Errorf("broker: %s", err)
	}
	log.Warn("broker: device reset, waiting for registration")
	b.identityChanged()
	return success(env, "device reset", nil)
}

func (b *Broker) identityChanged() {
	if b.OnIdentityChange != nil {
		b.OnIdentityChange()
	}
}

// Info describes the device for deviceInfo and the status API.
func (b *Broker) Info() (comm.DeviceInfo, error) {
	id := b.Device.Identity()
	info := comm.DeviceInfo{
		Version:    b.Device.Version,
		InstanceID: b.Device.InstanceID,
		Registered: b.Device.Registered(),
		CompanyID:  id.CompanyID,
		BranchID:   id.BranchID,
		DeviceCode: id.DeviceCode,
		UptimeSec:  int64(time.Since(b.Device.StartedAt).Seconds()),
	}
	if err := b.AccessService.FillInfo(&info); err != nil {
		return info, err
	}
	return info, nil
}

// PublishStatus reports the broker connection state on the callback subject.
func (b *Broker) PublishStatus(status, message string) {
	b.PublishJSON(b.Device.CallbackSubject(), comm.Response{
		Type:    comm.TypeMqttStatus,
		Status:  status,
		Message: message,
	})
}

// PublishAccess turns a decision into an attendance callback and returns it.
func (b *Broker) PublishAccess(d *service.Decision) comm.AttendanceEvent {
	ev := comm.AttendanceEvent{
		Type:       comm.TypeAttendance,
		EventID:    uuid.NewString(),
		DeviceCode: b.Device.Identity().DeviceCode,
		SlotID:     d.SlotID,
		Timestamp:  d.Timestamp,
		Epoch:      d.Epoch,
		Status:     d.Status,
	}
	if d.Member != nil {
		ev.UserId = d.Member.UserId
		ev.Name = d.Member.Name
	}
	b.PublishJSON(b.Device.CallbackSubject(), ev)
	return ev
}

func (b *Broker) PublishJSON(subject string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Errorf("broker: marshal for %s: %s", subject, err)
		return
	}
	b.Publish(subject, payload)
}

func (b *Broker) Publish(subject string, payload []byte) error {
	err := b.Conn.Publish(subject, payload)
	if err != nil {
		log.Errorf("Error publishing to subject %s: %s", subject, err)
		return err
	}

	return nil
}

func success(env comm.Envelope, message string, data any) comm.Response {
	return comm.Response{
		Type:      env.Type,
		Status:    comm.StatusSuccess,
		Message:   message,
		RequestID: env.RequestID,
		Data:      data,
	}
}

func failed(env comm.Envelope, err error) comm.Response {
	return comm.Response{
		Type:      env.Type,
		Status:    comm.StatusFailed,
		Message:   err.Error(),
		Code:      errs.Code(err),
		RequestID: env.RequestID,
	}
}

func invalidCommand(env comm.Envelope) comm.Response {
	return comm.Response{
		Type:      comm.TypeError,
		Status:    comm.StatusFailed,
		Message:   "Invalid command",
		RequestID: env.RequestID,
	}
}
