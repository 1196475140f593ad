package crdt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

/*
LEARNING: LAST-WRITER-WINS MAP

Every document field is a register holding (value, clock, origin). Two
replicas that have seen the same set of updates hold the same registers,
whatever order the updates arrived in:

  - Merging keeps, per field, the entry that sorts highest by
    (clock, origin, value). That ordering is total, so max() is
    commutative, associative and idempotent.
  - Updates travel as msgpack-encoded maps of field → entry. A full state
    is just an update containing every field.

Clients pick clock = (highest clock they have seen for the field) + 1 and
use their own client id as origin.
*/

// ErrMalformedUpdate is returned when an update cannot be decoded.
var ErrMalformedUpdate = errors.New("malformed document update")

// Entry is one field register.
type Entry struct {
	Value  string `msgpack:"v"`
	Clock  uint64 `msgpack:"c"`
	Origin string `msgpack:"o"`
}

// wins reports whether e should replace other.
func (e Entry) wins(other Entry) bool {
	if e.Clock != other.Clock {
		return e.Clock > other.Clock
	}
	if e.Origin != other.Origin {
		return e.Origin > other.Origin
	}
	return e.Value > other.Value
}

// Update is the wire form of a set of field writes.
type Update struct {
	Fields map[string]Entry `msgpack:"f"`
}

// Doc is a mergeable document. It is not safe for concurrent use; the
// owning room serializes access.
type Doc struct {
	fields map[string]Entry
}

func New() *Doc {
	return &Doc{fields: make(map[string]Entry)}
}

// Apply merges an encoded update into the document.
func (d *Doc) Apply(update []byte) error {
	u, err := DecodeUpdate(update)
	if err != nil {
		return err
	}
	d.Merge(u)
	return nil
}

// Merge folds the entries of u into the document.
func (d *Doc) Merge(u *Update) {
	for field, incoming := range u.Fields {
		current, ok := d.fields[field]
		if !ok || incoming.wins(current) {
			d.fields[field] = incoming
		}
	}
}

// Text returns the current value of field, or "" when unset.
func (d *Doc) Text(field string) string {
	return d.fields[field].Value
}

// Entry returns the register for field.
func (d *Doc) Entry(field string) (Entry, bool) {
	e, ok := d.fields[field]
	return e, ok
}

// EncodeState returns the whole document as a single update.
func (d *Doc) EncodeState() ([]byte, error) {
	fields := make(map[string]Entry, len(d.fields))
	for k, v := range d.fields {
		fields[k] = v
	}
	return EncodeUpdate(&Update{Fields: fields})
}

// SeedUpdate builds an update that restores persisted content for field at
// the lowest priority, so any live edit to the same field wins over it.
func SeedUpdate(field, content string) ([]byte, error) {
	return EncodeUpdate(&Update{Fields: map[string]Entry{
		field: {Value: content},
	}})
}

// SetUpdate builds an update writing value to field.
func SetUpdate(field, value string, clock uint64, origin string) ([]byte, error) {
	return EncodeUpdate(&Update{Fields: map[string]Entry{
		field: {Value: value, Clock: clock, Origin: origin},
	}})
}

func EncodeUpdate(u *Update) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(u); err != nil {
		return nil, fmt.Errorf("failed to encode update: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeUpdate(data []byte) (*Update, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedUpdate)
	}

	var u Update
	if err := msgpack.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	for field := range u.Fields {
		if field == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrMalformedUpdate)
		}
	}
	if u.Fields == nil {
		u.Fields = map[string]Entry{}
	}
	return &u, nil
}
