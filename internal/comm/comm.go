package comm

import (
	"encoding/json"
	"strings"

	"github.com/avvvet/doorlock-services/internal/locksvc/models"
)

// Command types accepted by a lock.
const (
	TypeRegisterDevice = "registerDevice"
	TypeEnrollUser     = "enrollUser"
	TypeDeleteUser     = "deleteUser"
	TypeSpiffsStatus   = "spiffsStatus"
	TypeDeviceInfo     = "deviceInfo"
	TypeResetDevice    = "resetDevice"
)

// Message types a lock publishes on its own.
const (
	TypeError      = "error"
	TypeMqttStatus = "mqtt_status"
	TypeAttendance = "attendance"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const (
	subjectRoot      = "unimanage"
	DefaultSubject   = subjectRoot + ".registerDevice"
	DefaultCallback  = DefaultSubject + ".callback"
	CallbackWildcard = subjectRoot + ".*.*.*.callback"
	commandSuffix    = "command"
	callbackSuffix   = "callback"
)

// Envelope is the discriminator every inbound command carries.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

type RegisterRequest struct {
	CompanyID  string `json:"companyID"`
	BranchID   string `json:"branchID"`
	DeviceCode string `json:"deviceCode"`
}

func (r RegisterRequest) Identity() models.DeviceIdentity {
	return models.DeviceIdentity{CompanyID: r.CompanyID, BranchID: r.BranchID, DeviceCode: r.DeviceCode}
}

type EnrollRequest struct {
	UserId          string          `json:"userId"`
	Name            string          `json:"name"`
	UserType        models.UserType `json:"userType"`
	SubscriptionEnd string          `json:"subscriptionEnd"`
	SecondFinger    bool            `json:"secondFinger,omitempty"`
}

type DeleteRequest struct {
	UserId string `json:"userId"`
}

// Response is the single answer to one command.
type Response struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// RawResponse is Response as read by consumers that inspect Data later.
type RawResponse struct {
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Code      string          `json:"code,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type EnrollResult struct {
	UserId       string `json:"userId"`
	PunchingId1  int    `json:"punchingId1"`
	PunchingId2  *int   `json:"punchingId2,omitempty"`
	SubsEndInSec int64  `json:"subsEndInSec"`
}

type DeviceInfo struct {
	Version        string `json:"version"`
	InstanceID     string `json:"instanceId"`
	Registered     bool   `json:"registered"`
	CompanyID      string `json:"companyID,omitempty"`
	BranchID       string `json:"branchID,omitempty"`
	DeviceCode     string `json:"deviceCode,omitempty"`
	SensorCapacity int    `json:"sensorCapacity"`
	TemplateCount  int    `json:"templateCount"`
	MemberCount    int    `json:"memberCount"`
	LastUsedID     int    `json:"lastUsedId"`
	ClockSynced    bool   `json:"clockSynced"`
	UptimeSec      int64  `json:"uptimeSec"`
}

type StorageStatus struct {
	TotalBytes  int64  `json:"totalBytes"`
	UsedBytes   int64  `json:"usedBytes"`
	FreeBytes   int64  `json:"freeBytes"`
	UsedPercent string `json:"usedPercent"`
}

// AttendanceEvent is published for every authorization decision.
type AttendanceEvent struct {
	Type       string                  `json:"type"`
	EventID    string                  `json:"eventId"`
	DeviceCode string                  `json:"deviceCode,omitempty"`
	UserId     string                  `json:"userId,omitempty"`
	Name       string                  `json:"name,omitempty"`
	SlotID     int                     `json:"slotId"`
	Timestamp  string                  `json:"timestamp,omitempty"`
	Epoch      int64                   `json:"epoch"`
	Status     models.AttendanceStatus `json:"status"`
}

// ValidToken reports whether s can be used as one subject token.
func ValidToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}

func deviceSubject(id models.DeviceIdentity, suffix string) string {
	return strings.Join([]string{subjectRoot, id.CompanyID, id.BranchID, id.DeviceCode, suffix}, ".")
}

func CommandSubject(id models.DeviceIdentity) string {
	return deviceSubject(id, commandSuffix)
}

func CallbackSubject(id models.DeviceIdentity) string {
	return deviceSubject(id, callbackSuffix)
}

// IdentityFromCallback extracts the device identity from a callback subject.
func IdentityFromCallback(subject string) (models.DeviceIdentity, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 5 || parts[0] != subjectRoot || parts[4] != callbackSuffix {
		return models.DeviceIdentity{}, false
	}
	return models.DeviceIdentity{CompanyID: parts[1], BranchID: parts[2], DeviceCode: parts[3]}, true
}
