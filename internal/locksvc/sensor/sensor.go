// Package sensor sequences enrollment, matching and revocation against an
// optical fingerprint module. The module itself is reached through the Sensor
// capability; its native result codes never leave this package.
package sensor

import (
	"fmt"

	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
)

// Code is a module-native confirmation code.
type Code uint8

const (
	CodeOK             Code = 0x00
	CodePacketRecvErr  Code = 0x01
	CodeNoFinger       Code = 0x02
	CodeImageFail      Code = 0x03
	CodeImageMess      Code = 0x06
	CodeFeatureFail    Code = 0x07
	CodeNoMatch        Code = 0x08
	CodeNotFound       Code = 0x09
	CodeEnrollMismatch Code = 0x0A
	CodeBadLocation    Code = 0x0B
	CodeDBReadFail     Code = 0x0C
	CodeDeleteFail     Code = 0x10
	CodeInvalidImage   Code = 0x15
	CodeFlashErr       Code = 0x18
	CodeTimeout        Code = 0xFF
)

// Sensor is the raw module capability. Character buffers are numbered 1 and 2.
type Sensor interface {
	// Capacity is the number of template locations, including reserved location 0.
	Capacity() int
	TemplateCount() (int, Code)
	GetImage() Code
	Image2Tz(buffer int) Code
	CreateModel() Code
	StoreModel(id int) Code
	LoadModel(id int) Code
	FingerSearch() (id int, confidence int, code Code)
	DeleteModel(id int) Code
}

// classify maps a native code to the device error taxonomy.
func classify(op string, code Code) error {
	switch code {
	case CodeOK:
		return nil
	case CodePacketRecvErr, CodeTimeout:
		return errs.New(errs.ErrSensorCommunication, op, "")
	case CodeNoFinger:
		return errs.New(errs.ErrNoFinger, op, "")
	case CodeImageFail:
		return errs.New(errs.ErrSensorImageQuality, op, "imaging")
	case CodeImageMess:
		return errs.New(errs.ErrSensorImageQuality, op, "image_messy")
	case CodeFeatureFail:
		return errs.New(errs.ErrSensorImageQuality, op, "feature_extraction")
	case CodeInvalidImage:
		return errs.New(errs.ErrSensorImageQuality, op, "invalid_image")
	case CodeEnrollMismatch:
		return errs.New(errs.ErrEnrollmentMismatch, op, "")
	case CodeBadLocation:
		return errs.New(errs.ErrSensorLocation, op, "invalid_location")
	case CodeFlashErr:
		return errs.New(errs.ErrSensorLocation, op, "flash_write")
	case CodeDBReadFail:
		return errs.New(errs.ErrSensorLocation, op, "db_read")
	case CodeDeleteFail:
		return errs.New(errs.ErrSensorLocation, op, "delete_failed")
	case CodeNoMatch, CodeNotFound:
		return errs.New(errs.ErrNotFound, op, "no_match")
	default:
		return errs.New(errs.ErrSensorCommunication, op, fmt.Sprintf("code 0x%02x", uint8(code)))
	}
}
