// internal/service/dto/change_event.go
package dto

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/webitel/change-relay/internal/domain/model"
)

var kindList = func() string {
	names := make([]string, 0, len(model.Kinds))
	for _, k := range model.Kinds {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}()

// ChangeEventV1 is the wire shape accepted by POST /broadcast and pushed over the realtime channel.
type ChangeEventV1 struct {
	Kind json.RawMessage `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// DecodeChangeEvent parses and validates a raw body. The returned error is always a
// *model.ValidationError describing the first violated constraint.
func DecodeChangeEvent(raw []byte) (*model.ChangeEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, model.NewValidationError("body", "expected a JSON object")
	}

	// a map keeps field names exact; struct decoding would also match "KIND" or "Data"
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, model.NewValidationError("body", "malformed JSON")
	}

	var d ChangeEventV1
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		switch name {
		case "kind":
			d.Kind = fields[name]
		case "data":
			d.Data = fields[name]
		default:
			if strings.EqualFold(name, "kind") || strings.EqualFold(name, "data") {
				return nil, model.NewValidationError("body", "unknown field %q, field names are case-sensitive", name)
			}
		}
	}

	return d.ToDomain()
}

// ToDomain validates the DTO and converts it into a domain event.
func (d *ChangeEventV1) ToDomain() (*model.ChangeEvent, error) {
	kind, err := d.kind()
	if err != nil {
		return nil, err
	}

	data := bytes.TrimSpace(d.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, model.NewValidationError("data", "required")
	}

	var items []json.RawMessage
	if data[0] != '[' || json.Unmarshal(data, &items) != nil {
		return nil, model.NewValidationError("data", "expected array of objects or array of strings")
	}

	// [UNION_ORDER] records are checked first, so an empty array lands on the records branch.
	if records, ok := asRecords(items); ok {
		return model.NewRecordsEvent(kind, records), nil
	}
	if ids, ok := asIDs(items); ok {
		return model.NewIDsEvent(kind, ids), nil
	}

	return nil, model.NewValidationError("data", "expected array of objects or array of strings")
}

func (d *ChangeEventV1) kind() (model.Kind, error) {
	raw := bytes.TrimSpace(d.Kind)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", model.NewValidationError("kind", "required")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", model.NewValidationError("kind", "expected string")
	}

	kind, ok := model.ParseKind(s)
	if !ok {
		return "", model.NewValidationError("kind", "invalid value %q, expected one of %s", s, kindList)
	}
	return kind, nil
}

func asRecords(items []json.RawMessage) ([]json.RawMessage, bool) {
	records := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		it = bytes.TrimSpace(it)
		if len(it) == 0 || it[0] != '{' {
			return nil, false
		}
		records = append(records, it)
	}
	return records, true
}

func asIDs(items []json.RawMessage) ([]string, bool) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		it = bytes.TrimSpace(it)
		if len(it) == 0 || it[0] != '"' {
			return nil, false
		}
		var s string
		if err := json.Unmarshal(it, &s); err != nil {
			return nil, false
		}
		ids = append(ids, s)
	}
	return ids, true
}
