package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

// PayloadKind distinguishes the shape of data an action on a work item
// accepts.
type PayloadKind int

const (
	// PayloadNone means the action takes no payload; any non-null body is
	// a constraint violation.
	PayloadNone PayloadKind = iota
	// PayloadJSON means the action accepts a JSON body that unmarshals
	// into, and validates against, a registered Go struct type.
	PayloadJSON
)

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

func payloadValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// PayloadSchema describes the expected payload of a single work-item action.
// When Kind is PayloadJSON, Type must be a struct type (not a pointer); tags
// follow github.com/go-playground/validator/v10 ("required", "min", "oneof",
// ...), the same schema-by-struct-tag idiom used for inbound payloads
// elsewhere in the stack.
type PayloadSchema struct {
	Kind PayloadKind
	Type reflect.Type
}

// NonePayload is the schema for actions that accept no payload.
var NonePayload = PayloadSchema{Kind: PayloadNone}

// JSONPayload builds a schema for an action that accepts a JSON body
// unmarshaled into a zero value of the given struct type, e.g.
// JSONPayload(reflect.TypeOf(ApprovalPayload{})).
func JSONPayload(t reflect.Type) PayloadSchema {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if err := mustValidateTag(t); err != nil {
		panic(fmt.Sprintf("engine: %s", err))
	}
	return PayloadSchema{Kind: PayloadJSON, Type: t}
}

// Validate decodes and validates raw against the schema, returning the
// decoded value (nil for PayloadNone) or a *EngineError of kind
// KindConstraintViolation.
func (s PayloadSchema) Validate(op string, raw json.RawMessage) (any, error) {
	switch s.Kind {
	case PayloadNone:
		if len(raw) > 0 && string(raw) != "null" {
			return nil, constraintErr(op, "action accepts no payload, got %d bytes", len(raw))
		}
		return nil, nil
	case PayloadJSON:
		if s.Type == nil {
			return nil, structuralErr(op, "payload schema marked JSON but has no type")
		}
		ptr := reflect.New(s.Type)
		if len(raw) == 0 {
			raw = []byte("{}")
		}
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, constraintErr(op, "payload decode: %w", err)
		}
		if err := payloadValidator().Struct(ptr.Interface()); err != nil {
			return nil, constraintErr(op, "payload validation: %w", err)
		}
		return ptr.Elem().Interface(), nil
	default:
		return nil, structuralErr(op, "unknown payload kind %d", s.Kind)
	}
}

// mustValidateTag reports an error unless t is a struct type, the only kind
// registerable as a payload. It does not inspect the struct's validation
// tags.
func mustValidateTag(t reflect.Type) error {
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("payload type %s is not a struct", t)
	}
	return nil
}
