package cip

import "fmt"

// Status is the result of a CIP service request: a non-zero General is
// a protocol-level error returned as a value, never raised as a Go
// error — callers inspect it directly, per spec.md §7.
type Status struct {
	General  uint8
	Extended *uint16
}

// OK reports whether the status represents CIP success (general == 0).
func (s Status) OK() bool {
	return s.General == 0x00
}

func (s Status) String() string {
	if s.Extended != nil {
		return fmt.Sprintf("0x%02X (%s) [extended 0x%04X]", s.General, GeneralStatusDescription(s.General), *s.Extended)
	}
	return fmt.Sprintf("0x%02X (%s)", s.General, GeneralStatusDescription(s.General))
}

// General status codes, common across CIP object classes.
const (
	StatusSuccess                          uint8 = 0x00
	StatusConnectionFailure                uint8 = 0x01
	StatusResourceUnavailable              uint8 = 0x02
	StatusInvalidParameter                 uint8 = 0x03
	StatusPathSegmentError                 uint8 = 0x04
	StatusPathDestinationUnknown           uint8 = 0x05
	StatusPartialTransfer                  uint8 = 0x06
	StatusConnectionLost                   uint8 = 0x07
	StatusServiceNotSupported              uint8 = 0x08
	StatusInvalidAttributeValue            uint8 = 0x09
	StatusAttributeListError               uint8 = 0x0A
	StatusAlreadyInRequestedMode           uint8 = 0x0B
	StatusObjectStateConflict              uint8 = 0x0C
	StatusObjectAlreadyExists              uint8 = 0x0D
	StatusAttributeNotSettable             uint8 = 0x0E
	StatusPrivilegeViolation               uint8 = 0x0F
	StatusDeviceStateConflict              uint8 = 0x10
	StatusReplyDataTooLarge                uint8 = 0x11
	StatusFragmentationOfPrimitive         uint8 = 0x12
	StatusNotEnoughData                    uint8 = 0x13
	StatusAttributeNotSupported            uint8 = 0x14
	StatusTooMuchData                      uint8 = 0x15
	StatusObjectDoesNotExist               uint8 = 0x16
	StatusServiceFragmentationError        uint8 = 0x17
	StatusNoStoredAttributeData            uint8 = 0x18
	StatusStoreOperationFailure            uint8 = 0x19
	StatusRoutingFailureRequestTooLarge    uint8 = 0x1A
	StatusRoutingFailureResponseTooLarge   uint8 = 0x1B
	StatusMissingAttributeListEntry        uint8 = 0x1C
	StatusInvalidAttributeValueList        uint8 = 0x1D
	StatusEmbeddedServiceError             uint8 = 0x1E
	StatusVendorSpecificError              uint8 = 0x1F
	StatusInvalidParameter2                uint8 = 0x20
	StatusWriteOnceValueAlreadyWritten     uint8 = 0x21
	StatusInvalidReplyReceived             uint8 = 0x22
	StatusBufferOverflow                   uint8 = 0x23
	StatusMessageFormatError               uint8 = 0x24
	StatusKeyFailureInPath                 uint8 = 0x25
	StatusPathSizeInvalid                  uint8 = 0x26
	StatusUnexpectedAttributeInList        uint8 = 0x27
	StatusInvalidMemberID                  uint8 = 0x28
	StatusMemberNotSettable                uint8 = 0x29
	StatusGroup2OnlyServerGeneralFailure   uint8 = 0x2A
	StatusUnknownModDuplicateModuleError   uint8 = 0x2B
	StatusResponseTimeout                  uint8 = 0x2D
)

var generalStatusDescriptions = map[uint8]string{
	StatusSuccess:                        "Success",
	StatusConnectionFailure:              "Connection failure",
	StatusResourceUnavailable:            "Resource unavailable",
	StatusInvalidParameter:               "Invalid parameter value",
	StatusPathSegmentError:               "Path segment error",
	StatusPathDestinationUnknown:         "Path destination unknown",
	StatusPartialTransfer:                "Partial transfer",
	StatusConnectionLost:                 "Connection lost",
	StatusServiceNotSupported:            "Service not supported",
	StatusInvalidAttributeValue:          "Invalid attribute value",
	StatusAttributeListError:             "Attribute list error",
	StatusAlreadyInRequestedMode:         "Already in requested mode or state",
	StatusObjectStateConflict:            "Object state conflict",
	StatusObjectAlreadyExists:            "Object already exists",
	StatusAttributeNotSettable:           "Attribute not settable",
	StatusPrivilegeViolation:             "Privilege violation",
	StatusDeviceStateConflict:            "Device state conflict",
	StatusReplyDataTooLarge:              "Reply data too large",
	StatusFragmentationOfPrimitive:       "Fragmentation of a primitive value",
	StatusNotEnoughData:                  "Not enough data",
	StatusAttributeNotSupported:          "Attribute not supported",
	StatusTooMuchData:                    "Too much data",
	StatusObjectDoesNotExist:             "Object does not exist",
	StatusServiceFragmentationError:      "Service fragmentation sequence not in progress",
	StatusNoStoredAttributeData:          "No stored attribute data",
	StatusStoreOperationFailure:          "Store operation failure",
	StatusRoutingFailureRequestTooLarge:  "Routing failure, request packet too large",
	StatusRoutingFailureResponseTooLarge: "Routing failure, response packet too large",
	StatusMissingAttributeListEntry:      "Missing attribute list entry data",
	StatusInvalidAttributeValueList:      "Invalid attribute value list",
	StatusEmbeddedServiceError:           "Embedded service error",
	StatusVendorSpecificError:            "Vendor specific error",
	StatusResponseTimeout:                "Response timeout",
}

// GeneralStatusDescription returns a human-readable description for a
// CIP general status code, falling back to a generic label for codes
// this table doesn't carry (vendor-specific or reserved ranges).
func GeneralStatusDescription(status uint8) string {
	if desc, ok := generalStatusDescriptions[status]; ok {
		return desc
	}
	return "unrecognized or vendor-specific status"
}

// vendorNames is a small excerpt of the ODVA vendor ID registry, used
// only to render DeviceIdentity diagnostics; unknown IDs degrade to a
// numeric label rather than failing.
var vendorNames = map[uint16]string{
	1:   "Rockwell Automation/Allen-Bradley",
	26:  "Festo",
	40:  "Schneider Electric",
	47:  "Omron Corporation",
	243: "Siemens AG",
	356: "Banner Engineering",
}

// VendorName returns a human-readable vendor name for a CIP vendor ID.
func VendorName(vendorID uint16) string {
	if name, ok := vendorNames[vendorID]; ok {
		return name
	}
	return fmt.Sprintf("Vendor 0x%04X", vendorID)
}
