package gatt

import "fmt"

// ATTError is an Attribute Protocol status code [Vol 3, Part F, 3.4.1.1].
// The zero value is Success.
type ATTError byte

const (
	ATTSuccess                       ATTError = 0x00
	ATTInvalidHandle                 ATTError = 0x01
	ATTReadNotPermitted              ATTError = 0x02
	ATTWriteNotPermitted             ATTError = 0x03
	ATTInvalidPDU                    ATTError = 0x04
	ATTInsufficientAuthentication    ATTError = 0x05
	ATTRequestNotSupported           ATTError = 0x06
	ATTInvalidOffset                 ATTError = 0x07
	ATTInsufficientAuthorization     ATTError = 0x08
	ATTPrepareQueueFull              ATTError = 0x09
	ATTAttributeNotFound             ATTError = 0x0a
	ATTAttributeNotLong              ATTError = 0x0b
	ATTInsufficientEncryptionKeySize ATTError = 0x0c
	ATTInvalidAttributeValueLength   ATTError = 0x0d
	ATTUnlikelyError                 ATTError = 0x0e
	ATTInsufficientEncryption        ATTError = 0x0f
	ATTUnsupportedGroupType          ATTError = 0x10
	ATTInsufficientResources         ATTError = 0x11
)

var attErrorNames = map[ATTError]string{
	ATTSuccess:                       "success",
	ATTInvalidHandle:                 "invalid handle",
	ATTReadNotPermitted:              "read not permitted",
	ATTWriteNotPermitted:             "write not permitted",
	ATTInvalidPDU:                    "invalid PDU",
	ATTInsufficientAuthentication:    "insufficient authentication",
	ATTRequestNotSupported:           "request not supported",
	ATTInvalidOffset:                 "invalid offset",
	ATTInsufficientAuthorization:     "insufficient authorization",
	ATTPrepareQueueFull:              "prepare queue full",
	ATTAttributeNotFound:             "attribute not found",
	ATTAttributeNotLong:              "attribute not long",
	ATTInsufficientEncryptionKeySize: "insufficient encryption key size",
	ATTInvalidAttributeValueLength:   "invalid attribute value length",
	ATTUnlikelyError:                 "unlikely error",
	ATTInsufficientEncryption:        "insufficient encryption",
	ATTUnsupportedGroupType:          "unsupported group type",
	ATTInsufficientResources:         "insufficient resources",
}

func (e ATTError) String() string {
	if name, ok := attErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ATT error 0x%02x", byte(e))
}

// Error lets a non-success status travel as an error value.
func (e ATTError) Error() string {
	return "att: " + e.String()
}

// OK reports whether e is ATTSuccess.
func (e ATTError) OK() bool {
	return e == ATTSuccess
}
