package common

import "fmt"

// StoreErrType enumerates the error conditions reported by directory stores.
type StoreErrType uint32

const (
	// KeyNotFound is returned when no record exists for the requested key.
	KeyNotFound StoreErrType = iota
	// Empty is returned when the store contains no records at all.
	Empty
	// DuplicateAddress is returned when more than one record is bound to the
	// same network address. Addresses are expected to be unique, so this is a
	// consistency violation, not a recoverable miss.
	DuplicateAddress
	// StaleRecord is returned when a write carries a serial that does not
	// supersede the stored one.
	StaleRecord
	// NoParameters is returned when network parameters have not been pinned.
	NoParameters
)

// StoreErr qualifies a store error with the data type and key it relates to.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a StoreErr.
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface.
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case Empty:
		m = "Empty"
	case DuplicateAddress:
		m = "Duplicate Address"
	case StaleRecord:
		m = "Stale Record"
	case NoParameters:
		m = "No Parameters"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is a StoreErr of the provided type.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
