package model

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Kind is the closed set of mutations a ChangeEvent can describe.
type Kind string

const (
	KindUpdate Kind = "UPDATE"
	KindCreate Kind = "CREATE"
	KindDelete Kind = "DELETE"
)

// Kinds lists every accepted Kind in wire order.
var Kinds = []Kind{KindUpdate, KindCreate, KindDelete}

// ParseKind returns the Kind for s or false when s is outside the enumeration.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

func (k Kind) String() string { return string(k) }

// PayloadShape tells which branch of the payload union an event carries.
type PayloadShape int8

const (
	// [RECORDS] ordered opaque record objects (CREATE/UPDATE)
	PayloadRecords PayloadShape = iota + 1
	// [IDS] ordered identifiers (DELETE)
	PayloadIDs
)

// Payload is transparent cargo. Exactly one of Records or IDs is meaningful, selected by Shape.
// Records keep their original bytes so the relay forwards them verbatim.
type Payload struct {
	Shape   PayloadShape
	Records []json.RawMessage
	IDs     []string
}

// Len returns the number of items in the active branch.
func (p Payload) Len() int {
	if p.Shape == PayloadIDs {
		return len(p.IDs)
	}
	return len(p.Records)
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Shape == PayloadIDs {
		if p.IDs == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(p.IDs)
	}
	if p.Records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Records)
}

// ChangeEvent is the unit of notification. It lives for one fan-out and is never stored.
type ChangeEvent struct {
	Kind    Kind
	Payload Payload

	// ReceivedAt is stamped by the ingress and is not part of the wire format.
	ReceivedAt time.Time

	// [WIRE_CACHE] encoded exactly once, shared by every connection of a fan-out
	encodeOnce sync.Once
	encoded    []byte
	encodeErr  error
}

// NewRecordsEvent builds a CREATE/UPDATE style event.
func NewRecordsEvent(kind Kind, records []json.RawMessage) *ChangeEvent {
	return &ChangeEvent{
		Kind:       kind,
		Payload:    Payload{Shape: PayloadRecords, Records: records},
		ReceivedAt: time.Now(),
	}
}

// NewIDsEvent builds a DELETE style event.
func NewIDsEvent(kind Kind, ids []string) *ChangeEvent {
	return &ChangeEvent{
		Kind:       kind,
		Payload:    Payload{Shape: PayloadIDs, IDs: ids},
		ReceivedAt: time.Now(),
	}
}

type wireChangeEvent struct {
	Kind Kind    `json:"kind"`
	Data Payload `json:"data"`
}

func (e *ChangeEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireChangeEvent{Kind: e.Kind, Data: e.Payload})
}

// Encode returns the wire form {"kind":...,"data":[...]}. The result is computed once per event
// and must not be modified by callers.
func (e *ChangeEvent) Encode() ([]byte, error) {
	e.encodeOnce.Do(func() {
		e.encoded, e.encodeErr = json.Marshal(wireChangeEvent{Kind: e.Kind, Data: e.Payload})
		if e.encodeErr != nil {
			e.encodeErr = fmt.Errorf("encode change event: %w", e.encodeErr)
		}
	})
	return e.encoded, e.encodeErr
}
