package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

type EventArchive interface {
	SaveEvent(ctx context.Context, device models.DeviceIdentity, ev comm.AttendanceEvent) (bool, error)
}

type PresenceTracker interface {
	Touch(ctx context.Context, id models.DeviceIdentity, msgType string, now time.Time) error
}

// Broker consumes device callbacks for the archive.
type Broker struct {
	Conn     *nats.Conn
	Events   EventArchive
	Presence PresenceTracker
	Timeout  time.Duration
}

func NewBroker(nc *nats.Conn, events EventArchive, presence PresenceTracker) *Broker {
	return &Broker{
		Conn:     nc,
		Events:   events,
		Presence: presence,
		Timeout:  10 * time.Second,
	}
}

// consume device callbacks (Queue)
func (b *Broker) QueueSubscribCallbacks(topic, queueGroup string) (*nats.Subscription, error) {
	sub, err := b.Conn.QueueSubscribe(topic, queueGroup, b.handleMessage)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), b.Timeout)
	defer cancel()
	b.HandleCallback(ctx, msg.Subject, msg.Data)
}

// HandleCallback refreshes the device presence and archives attendance events.
func (b *Broker) HandleCallback(ctx context.Context, subject string, data []byte) {
	id, ok := comm.IdentityFromCallback(subject)
	if !ok {
		log.Warnf("archive: ignoring message on %s", subject)
		return
	}

	env := comm.Envelope{}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Errorf("archive: undecodable callback from %s: %s", subject, err)
		return
	}

	if b.Presence != nil {
		if err := b.Presence.Touch(ctx, id, env.Type, time.Now().UTC()); err != nil {
			log.Errorf("archive: %s", err)
		}
	}

	if env.Type != comm.TypeAttendance {
		return
	}

	ev := comm.AttendanceEvent{}
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Errorf("archive: bad attendance event from %s: %s", subject, err)
		return
	}
	if ev.EventID == "" {
		log.Warnf("archive: attendance event without id from %s", subject)
		return
	}

	inserted, err := b.Events.SaveEvent(ctx, id, ev)
	if err != nil {
		log.Errorf("archive: %s", err)
		return
	}
	if !inserted {
		log.Debugf("archive: duplicate event %s", ev.EventID)
	}
}
