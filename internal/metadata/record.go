package metadata

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Lifetime is the retention class of an uploaded object.
type Lifetime string

const (
	LifetimeForever Lifetime = "forever"
	LifetimeOnce    Lifetime = "once"
	Lifetime6h      Lifetime = "6h"
	Lifetime12h     Lifetime = "12h"
	Lifetime18h     Lifetime = "18h"
	Lifetime24h     Lifetime = "24h"
)

// DeletableLifetimes lists the retention classes that expire automatically.
// forever and once are never selected by the expiration sweep.
var DeletableLifetimes = []Lifetime{Lifetime6h, Lifetime12h, Lifetime18h, Lifetime24h}

var retentions = map[Lifetime]time.Duration{
	Lifetime6h:  6 * time.Hour,
	Lifetime12h: 12 * time.Hour,
	Lifetime18h: 18 * time.Hour,
	Lifetime24h: 24 * time.Hour,
}

// Retention returns how long after creation a record of this class expires.
// The second result is false for undeletable and unknown classes.
func (l Lifetime) Retention() (time.Duration, bool) {
	d, ok := retentions[l]
	return d, ok
}

// Deletable reports whether records of this class expire automatically.
func (l Lifetime) Deletable() bool {
	_, ok := retentions[l]
	return ok
}

// Record is the metadata kept for one uploaded object.
type Record struct {
	// ID is the opaque document id.
	ID string
	// Name is the blob key in the object store.
	Name string
	// Size is the byte size recorded at upload time.
	Size     int64
	Created  time.Time
	Lifetime Lifetime
	// IsValid is set once the stored blob size matched Size.
	IsValid bool
	// DeleteFlag is set once the retention period has elapsed.
	DeleteFlag bool
	// RefCount is maintained by external writers. Records with a non-zero
	// count are never deleted.
	RefCount int64
}

// Filter is a conjunction of predicates over record fields.
// Nil or empty fields do not constrain the result.
type Filter struct {
	CreatedAtOrAfter *time.Time
	IsValid          *bool
	Lifetimes        []Lifetime
	DeleteFlag       *bool
	RefCount         *int64
}

// Match reports whether r satisfies every predicate in f.
func (f Filter) Match(r Record) bool {
	if f.CreatedAtOrAfter != nil && r.Created.Before(*f.CreatedAtOrAfter) {
		return false
	}
	if f.IsValid != nil && r.IsValid != *f.IsValid {
		return false
	}
	if len(f.Lifetimes) > 0 && !slices.Contains(f.Lifetimes, r.Lifetime) {
		return false
	}
	if f.DeleteFlag != nil && r.DeleteFlag != *f.DeleteFlag {
		return false
	}
	if f.RefCount != nil && r.RefCount != *f.RefCount {
		return false
	}
	return true
}

// Fields is a partial update. Only non-nil fields are written.
type Fields struct {
	IsValid    *bool
	DeleteFlag *bool
}

// Empty reports whether no field is set.
func (f Fields) Empty() bool {
	return f.IsValid == nil && f.DeleteFlag == nil
}

// Apply returns r with the set fields overwritten.
func (f Fields) Apply(r Record) Record {
	if f.IsValid != nil {
		r.IsValid = *f.IsValid
	}
	if f.DeleteFlag != nil {
		r.DeleteFlag = *f.DeleteFlag
	}
	return r
}

// Bool returns a pointer to b. Convenience for building filters and updates.
func Bool(b bool) *bool { return &b }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }

// TimestampLayout is the persisted form of created timestamps: ISO-8601 in
// UTC with microseconds and an explicit offset, e.g.
// 2024-03-01T12:00:00.000000+00:00.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// naiveLayout accepts timestamps written without an offset, which are UTC.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// FormatTimestamp renders t in TimestampLayout, converted to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an ISO-8601 timestamp. Offsetless values are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(naiveLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: created %q: %v", ErrInvalidRecord, s, err)
	}
	return t, nil
}

// Document is the persisted shape of a record, keeping the field names of
// existing stored documents. isValid is a "true"/"false" string and created
// an ISO-8601 string.
type Document struct {
	Name       string `json:"name" firestore:"name"`
	Size       int64  `json:"size" firestore:"size"`
	Created    string `json:"created" firestore:"created"`
	Lifetime   string `json:"lifetime" firestore:"lifetime"`
	IsValid    string `json:"isValid" firestore:"isValid"`
	DeleteFlag bool   `json:"deleteFlag" firestore:"deleteFlag"`
	RefCount   int64  `json:"refCount" firestore:"refCount"`
}

// ToDocument converts r to its persisted shape.
func ToDocument(r Record) Document {
	return Document{
		Name:       r.Name,
		Size:       r.Size,
		Created:    FormatTimestamp(r.Created),
		Lifetime:   string(r.Lifetime),
		IsValid:    FormatValidFlag(r.IsValid),
		DeleteFlag: r.DeleteFlag,
		RefCount:   r.RefCount,
	}
}

// Record converts the persisted shape back into a Record with the given id.
func (d Document) Record(id string) (Record, error) {
	created, err := ParseTimestamp(d.Created)
	if err != nil {
		return Record{}, err
	}
	valid, err := ParseValidFlag(d.IsValid)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:         id,
		Name:       d.Name,
		Size:       d.Size,
		Created:    created,
		Lifetime:   Lifetime(d.Lifetime),
		IsValid:    valid,
		DeleteFlag: d.DeleteFlag,
		RefCount:   d.RefCount,
	}, nil
}

// FormatValidFlag renders the isValid flag as stored: "true" or "false".
func FormatValidFlag(b bool) string {
	return strconv.FormatBool(b)
}

// ParseValidFlag parses a stored isValid flag. An empty value means false.
func ParseValidFlag(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: isValid %q", ErrInvalidRecord, s)
	}
	return b, nil
}

// EncodeRecord serializes r as a JSON document.
func EncodeRecord(r Record) ([]byte, error) {
	return json.Marshal(ToDocument(r))
}

// DecodeRecord parses a JSON document into a Record with the given id.
func DecodeRecord(id string, data []byte) (Record, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return doc.Record(id)
}
