// Package keys provides key encoding/decoding for the Oxia keyspace.
//
// Record documents and the reconciler lease are stored per collection:
//
//	/lifecycle/v1/collections/<collection>/records/<recordId>
//	/lifecycle/v1/collections/<collection>/lease
//
// Collection names and record ids must not contain '/'.
package keys

import (
	"errors"
	"fmt"
	"strings"
)

// Key prefixes.
const (
	// Prefix is the root prefix for all lifecycle keys.
	Prefix = "/lifecycle/v1"

	// CollectionsPrefix is the prefix for per-collection keys.
	CollectionsPrefix = Prefix + "/collections"
)

const (
	recordsSegment = "records"
	leaseSegment   = "lease"
)

// Errors returned by key parsing and validation.
var (
	ErrInvalidKey     = errors.New("keys: invalid key format")
	ErrInvalidSegment = errors.New("keys: segment must be non-empty and must not contain '/'")
)

// ValidateSegment checks that s can be used as a single key segment.
func ValidateSegment(s string) error {
	if s == "" || strings.Contains(s, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidSegment, s)
	}
	return nil
}

// CollectionPrefix returns the prefix for all keys of a collection.
// Format: /lifecycle/v1/collections/<collection>
func CollectionPrefix(collection string) string {
	return CollectionsPrefix + "/" + collection
}

// RecordKeyPath returns the key for a record document.
// Format: /lifecycle/v1/collections/<collection>/records/<recordId>
func RecordKeyPath(collection, id string) string {
	return RecordsPrefix(collection) + id
}

// RecordsPrefix returns the prefix for all records of a collection,
// including the trailing slash.
func RecordsPrefix(collection string) string {
	return CollectionPrefix(collection) + "/" + recordsSegment + "/"
}

// RecordsEndKey returns the exclusive upper bound for a range scan over all
// records of a collection. Oxia sorts keys hierarchically, so the direct
// children of "<prefix>/" lie in ["<prefix>/", "<prefix>//").
func RecordsEndKey(collection string) string {
	return RecordsPrefix(collection) + "/"
}

// ParseRecordKey extracts the collection and record id from a record key.
func ParseRecordKey(key string) (collection, id string, err error) {
	if !strings.HasPrefix(key, CollectionsPrefix+"/") {
		return "", "", ErrInvalidKey
	}
	rest := strings.TrimPrefix(key, CollectionsPrefix+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != recordsSegment || parts[0] == "" || parts[2] == "" {
		return "", "", ErrInvalidKey
	}
	return parts[0], parts[2], nil
}

// LeaseKeyPath returns the ephemeral lease key for a collection's reconciler.
// Format: /lifecycle/v1/collections/<collection>/lease
func LeaseKeyPath(collection string) string {
	return CollectionPrefix(collection) + "/" + leaseSegment
}
