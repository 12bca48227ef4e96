package autoupdate

import (
	"bytes"
	"fmt"
	"math"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"

	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/datastore"
	"github.com/openslides/vmrepo/pkg/models"
)

const subscribeType = "subscribe"

// Subscription requests the given fields of every record of a collection.
type Subscription struct {
	Collection string   `json:"collection"`
	Fields     []string `json:"fields"`
}

// SubscribeRequest is the first frame sent after every (re)connect.
type SubscribeRequest struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Request []Subscription `json:"request"`
}

func NewSubscribeRequest(subs []Subscription) (SubscribeRequest, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return SubscribeRequest{}, fmt.Errorf("generate request id: %w", err)
	}
	return SubscribeRequest{ID: id.String(), Type: subscribeType, Request: subs}, nil
}

// ParsePatch decodes an autoupdate frame, a flat object of fqfields, into
// field changes in document order. Integral numbers are decoded as int.
func ParsePatch(data []byte) ([]datastore.FieldChange, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: expected a json object", constants.ErrInvalidMessage)
	}

	var changes []datastore.FieldChange
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		fqfield, err := models.ParseFQField(string(key))
		if err != nil {
			return err
		}
		v, err := decodeValue(value, dataType)
		if err != nil {
			return fmt.Errorf("field %s: %w", fqfield, err)
		}
		changes = append(changes, datastore.FieldChange{FQField: fqfield, Value: v})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrInvalidMessage, err)
	}
	return changes, nil
}

func decodeValue(value []byte, dataType jsonparser.ValueType) (any, error) {
	switch dataType {
	case jsonparser.Null:
		return nil, nil
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(value)
	case jsonparser.Number:
		return parseNumber(value)
	case jsonparser.Object, jsonparser.Array:
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return normalize(v)
	default:
		return nil, fmt.Errorf("unsupported value %q", value)
	}
}

func parseNumber(value []byte) (any, error) {
	if i, err := jsonparser.ParseInt(value); err == nil && i >= math.MinInt && i <= math.MaxInt {
		return int(i), nil
	}
	return jsonparser.ParseFloat(value)
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return parseNumber([]byte(t))
	case []any:
		for i := range t {
			n, err := normalize(t[i])
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case map[string]any:
		for k := range t {
			n, err := normalize(t[k])
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
