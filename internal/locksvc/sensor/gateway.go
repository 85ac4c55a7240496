package sensor

import (
	"context"
	"time"

	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	PollInterval  time.Duration // delay between GetImage polls
	EnrollTimeout time.Duration // per finger wait during enrollment
	MatchWait     time.Duration // finger wait for one identify attempt
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.EnrollTimeout <= 0 {
		o.EnrollTimeout = 30 * time.Second
	}
	if o.MatchWait <= 0 {
		o.MatchWait = 250 * time.Millisecond
	}
	return o
}

// Gateway is the only consumer of the Sensor capability.
type Gateway struct {
	sensor Sensor
	opts   Options
}

func NewGateway(s Sensor, opts Options) *Gateway {
	return &Gateway{sensor: s, opts: opts.withDefaults()}
}

type Match struct {
	SlotID     int
	Confidence int
}

func (g *Gateway) Capacity() int {
	return g.sensor.Capacity()
}

func (g *Gateway) TemplateCount() (int, error) {
	n, code := g.sensor.TemplateCount()
	if err := classify("template count", code); err != nil {
		return 0, err
	}
	return n, nil
}

// Probe reports whether a template is bound at id. Only a communication
// failure is an error; any other refusal means the location is free.
func (g *Gateway) Probe(id int) (bool, error) {
	code := g.sensor.LoadModel(id)
	if code == CodeOK {
		return true, nil
	}
	if code == CodePacketRecvErr || code == CodeTimeout {
		return false, classify("probe", code)
	}
	return false, nil
}

// Enroll runs the two-sample enrollment and stores the model at id.
// Nothing is retried: each failure is returned as its own classified error.
func (g *Gateway) Enroll(ctx context.Context, id int) error {
	if id < 1 || id > g.sensor.Capacity()-1 {
		return errs.New(errs.ErrSensorLocation, "enroll", "invalid_location")
	}

	log.Infof("enroll slot %d: place finger", id)
	if err := g.sample(ctx, 1); err != nil {
		return err
	}

	log.Infof("enroll slot %d: remove finger", id)
	if err := g.waitFor(ctx, "enroll remove finger", false, g.opts.EnrollTimeout); err != nil {
		return err
	}

	log.Infof("enroll slot %d: place same finger again", id)
	if err := g.sample(ctx, 2); err != nil {
		return err
	}

	if err := classify("create model", g.sensor.CreateModel()); err != nil {
		return err
	}
	if err := classify("store model", g.sensor.StoreModel(id)); err != nil {
		return err
	}

	log.Infof("enroll slot %d: template stored", id)
	return nil
}

func (g *Gateway) sample(ctx context.Context, buffer int) error {
	if err := g.waitFor(ctx, "enroll capture", true, g.opts.EnrollTimeout); err != nil {
		return err
	}
	return classify("enroll convert", g.sensor.Image2Tz(buffer))
}

// Match waits up to MatchWait for a finger and searches the template library.
// No finger yields ErrNoFinger; an unknown finger yields ErrNotFound.
func (g *Gateway) Match(ctx context.Context) (Match, error) {
	if err := g.waitFor(ctx, "match capture", true, g.opts.MatchWait); err != nil {
		return Match{}, err
	}
	if err := classify("match convert", g.sensor.Image2Tz(1)); err != nil {
		return Match{}, err
	}
	id, confidence, code := g.sensor.FingerSearch()
	if err := classify("match search", code); err != nil {
		return Match{}, err
	}
	return Match{SlotID: id, Confidence: confidence}, nil
}

// Revoke deletes the template at id.
func (g *Gateway) Revoke(id int) error {
	return classify("revoke", g.sensor.DeleteModel(id))
}

// waitFor polls GetImage until a finger is present (or absent) and is the only
// suspension point in the sensor path; it ends with ErrNoFinger once timeout elapses.
func (g *Gateway) waitFor(ctx context.Context, op string, present bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()

	for {
		code := g.sensor.GetImage()
		switch {
		case code == CodeOK && present, code == CodeNoFinger && !present:
			return nil
		case code == CodeOK, code == CodeNoFinger:
			// keep waiting
		case code == CodeImageFail && !present:
			// finger still partly on the glass
		default:
			return classify(op, code)
		}

		select {
		case <-ctx.Done():
			reason := "timeout"
			if !present {
				reason = "finger not removed"
			}
			return &errs.Error{Kind: errs.ErrNoFinger, Op: op, Reason: reason, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}
