package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DevicesCollection = "devices"

// DeviceRegistry keeps one presence document per device; the TTL index on
// expires_at removes devices that stop calling back.
type DeviceRegistry struct {
	coll *mongo.Collection
	ttl  time.Duration
}

func NewDeviceRegistry(db *mongo.Database, ttl time.Duration) *DeviceRegistry {
	return &DeviceRegistry{coll: db.Collection(DevicesCollection), ttl: ttl}
}

func DeviceKey(id models.DeviceIdentity) string {
	return id.CompanyID + "/" + id.BranchID + "/" + id.DeviceCode
}

// Touch records that the device just sent a message of msgType.
func (r *DeviceRegistry) Touch(ctx context.Context, id models.DeviceIdentity, msgType string, now time.Time) error {
	filter := bson.M{"_id": DeviceKey(id)}
	update := bson.M{
		"$set": bson.M{
			"company_id":  id.CompanyID,
			"branch_id":   id.BranchID,
			"device_code": id.DeviceCode,
			"last_type":   msgType,
			"last_seen":   now,
			"expires_at":  now.Add(r.ttl),
		},
		"$setOnInsert": bson.M{"first_seen": now},
	}

	_, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not touch device %s: %v", DeviceKey(id), err)
	}
	return nil
}
