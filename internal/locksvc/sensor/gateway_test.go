package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(capacity int) (*Gateway, *Simulator) {
	sim := NewSimulator(capacity)
	gw := NewGateway(sim, Options{
		PollInterval:  time.Millisecond,
		EnrollTimeout: 40 * time.Millisecond,
		MatchWait:     20 * time.Millisecond,
	})
	return gw, sim
}

func TestEnrollStoresTemplate(t *testing.T) {
	gw, sim := newTestGateway(8)
	sim.PresentForEnroll("alice")

	require.NoError(t, gw.Enroll(context.Background(), 3))
	assert.Equal(t, "alice", sim.Bound(3))

	n, err := gw.TemplateCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnrollMismatch(t *testing.T) {
	gw, sim := newTestGateway(8)
	sim.Feed("alice", "", "bob")

	err := gw.Enroll(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrEnrollmentMismatch)
	assert.Empty(t, sim.BoundIDs())
}

func TestEnrollImageMessy(t *testing.T) {
	gw, sim := newTestGateway(8)
	sim.Feed("alice")
	sim.Fail(OpImage2Tz, CodeImageMess)

	err := gw.Enroll(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrSensorImageQuality)
	assert.Equal(t, "image_messy", errs.ReasonOf(err))
}

func TestEnrollFeatureFailIsDistinct(t *testing.T) {
	gw, sim := newTestGateway(8)
	sim.Feed("alice")
	sim.Fail(OpImage2Tz, CodeFeatureFail)

	err := gw.Enroll(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrSensorImageQuality)
	assert.Equal(t, "feature_extraction", errs.ReasonOf(err))
}

func TestEnrollTimesOutWithoutFinger(t *testing.T) {
	gw, _ := newTestGateway(8)

	err := gw.Enroll(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrNoFinger)
	assert.Equal(t, "timeout", errs.ReasonOf(err))
}

func TestEnrollFingerNeverLifted(t *testing.T) {
	gw, sim := newTestGateway(8)
	held := make([]string, 500)
	for i := range held {
		held[i] = "alice"
	}
	sim.Feed(held...)

	err := gw.Enroll(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrNoFinger)
	assert.Equal(t, "finger not removed", errs.ReasonOf(err))
	assert.Empty(t, sim.BoundIDs())
}

func TestEnrollImagingFailureOnCapture(t *testing.T) {
	gw, sim := newTestGateway(8)
	sim.PresentForEnroll("alice")
	sim.Fail(OpGetImage, CodeImageFail)

	err := gw.Enroll(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrSensorImageQuality)
	assert.Equal(t, "imaging", errs.ReasonOf(err))
	assert.Empty(t, sim.BoundIDs())
}

func TestEnrollRejectsReservedLocation(t *testing.T) {
	gw, _ := newTestGateway(8)
	assert.ErrorIs(t, gw.Enroll(context.Background(), 0), errs.ErrSensorLocation)
	assert.ErrorIs(t, gw.Enroll(context.Background(), 8), errs.ErrSensorLocation)
}

func TestEnrollStoreFailure(t *testing.T) {
	gw, sim := newTestGateway(8)
	sim.PresentForEnroll("alice")
	sim.Fail(OpStoreModel, CodeFlashErr)

	err := gw.Enroll(context.Background(), 2)
	assert.ErrorIs(t, err, errs.ErrSensorLocation)
	assert.Equal(t, "flash_write", errs.ReasonOf(err))
}

func TestMatch(t *testing.T) {
	gw, sim := newTestGateway(8)
	sim.Bind(5, "alice")

	sim.Feed("alice")
	m, err := gw.Match(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, m.SlotID)
	assert.Equal(t, 100, m.Confidence)

	sim.Feed("mallory")
	_, err = gw.Match(context.Background())
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = gw.Match(context.Background())
	assert.ErrorIs(t, err, errs.ErrNoFinger)
}

func TestProbe(t *testing.T) {
	gw, sim := newTestGateway(8)
	sim.Bind(2, "alice")

	bound, err := gw.Probe(2)
	require.NoError(t, err)
	assert.True(t, bound)

	bound, err = gw.Probe(3)
	require.NoError(t, err)
	assert.False(t, bound)

	sim.Fail(OpLoadModel, CodePacketRecvErr)
	_, err = gw.Probe(2)
	assert.ErrorIs(t, err, errs.ErrSensorCommunication)
}

func TestRevoke(t *testing.T) {
	gw, sim := newTestGateway(8)
	sim.Bind(2, "alice")

	require.NoError(t, gw.Revoke(2))
	assert.Empty(t, sim.BoundIDs())

	sim.Fail(OpDeleteModel, CodeDeleteFail)
	assert.ErrorIs(t, gw.Revoke(2), errs.ErrSensorLocation)
}

func TestUnknownCodeIsCommunicationError(t *testing.T) {
	err := classify("op", Code(0x42))
	assert.ErrorIs(t, err, errs.ErrSensorCommunication)
}
