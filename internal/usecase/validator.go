package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fairyhunter13/print-mes/internal/domain"
)

// Job payload field names in canonical order.
const (
	FieldWorkOrder        = "work_order"
	FieldSalesOrder       = "sales_order"
	FieldQuantityOrder    = "quantity_order"
	FieldQuantityUnit     = "quantity_unit"
	FieldWorkCenter       = "work_center"
	FieldPlannedStartTime = "planned_start_time"
	FieldReleaseDate      = "release_date"
	FieldDueDate          = "due_date"
	FieldJobPriority      = "job_priority"
	FieldNotes            = "notes"
	FieldAttribute        = "attribute"
)

// JobFields lists every writable job field in canonical order.
var JobFields = []string{
	FieldWorkOrder, FieldSalesOrder, FieldQuantityOrder, FieldQuantityUnit, FieldWorkCenter,
	FieldPlannedStartTime, FieldReleaseDate, FieldDueDate, FieldJobPriority, FieldNotes, FieldAttribute,
}

// JobInput is a raw create or update payload keyed by field name. Presence of
// a key (even with a null value) marks the field as supplied.
type JobInput map[string]json.RawMessage

// DecodeJobInput parses a JSON object payload.
func DecodeJobInput(b []byte) (JobInput, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return JobInput{}, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: request body must be a JSON object", domain.ErrInvalidArgument)
	}
	var in JobInput
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return nil, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	return in, nil
}

func (in JobInput) has(field string) bool {
	_, ok := in[field]
	return ok
}

func (in JobInput) isNull(field string) bool {
	raw, ok := in[field]
	return !ok || isJSONNull(raw)
}

// JobDraft is a structurally valid payload. Nil pointers are fields that were
// not supplied; lookup ids are not yet resolved.
type JobDraft struct {
	WorkOrder        *string
	SalesOrder       *string
	QuantityOrder    *int
	QuantityUnit     *int64
	WorkCenter       *int64
	PlannedStartTime *time.Time
	ReleaseDate      domain.Optional[*time.Time]
	DueDate          domain.Optional[*time.Time]
	JobPriority      *int64
	Notes            *string
	Attribute        domain.Optional[json.RawMessage]
}

type fieldRule struct {
	field string
	tag   string
}

// Structural rules shared by create and update. Update applies them only to
// fields present in the payload.
var jobFieldRules = []fieldRule{
	{field: FieldWorkOrder, tag: "required,max=100"},
	{field: FieldSalesOrder, tag: "required,max=100"},
	{field: FieldQuantityOrder, tag: "min=1"},
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// ValidateCreate checks a create payload and returns the parsed draft or a
// *domain.ValidationError listing every failing field in canonical order.
func ValidateCreate(in JobInput) (JobDraft, error) {
	return validateJob(in, true)
}

// ValidateUpdate checks an update payload. All fields are optional but
// present ones follow the create rules; an empty payload is rejected.
func ValidateUpdate(in JobInput) (JobDraft, error) {
	known := 0
	for _, f := range JobFields {
		if in.has(f) {
			known++
		}
	}
	if known == 0 {
		return JobDraft{}, domain.NewValidationError(domain.FieldError{Field: "body", Message: "At least one field is required"})
	}
	return validateJob(in, false)
}

func validateJob(in JobInput, create bool) (JobDraft, error) {
	var d JobDraft
	errs := map[string]string{}
	fail := func(field, msg string) {
		if _, dup := errs[field]; !dup {
			errs[field] = msg
		}
	}
	required := func(field string) bool {
		if in.isNull(field) {
			if create || in.has(field) {
				fail(field, field+" is required")
			}
			return false
		}
		return true
	}

	for _, f := range []string{FieldWorkOrder, FieldSalesOrder} {
		if !in.has(f) {
			if create {
				fail(f, f+" is required")
			}
			continue
		}
		s, ok := decodeText(in[f])
		if !ok {
			fail(f, f+" must be a string")
			continue
		}
		if f == FieldWorkOrder {
			d.WorkOrder = &s
		} else {
			d.SalesOrder = &s
		}
	}

	if in.has(FieldQuantityOrder) {
		n, ok := decodeInteger(in[FieldQuantityOrder])
		if !ok {
			fail(FieldQuantityOrder, FieldQuantityOrder+" must be integer")
		} else {
			d.QuantityOrder = &n
		}
	}

	for _, ref := range []struct {
		field string
		dst   **int64
	}{
		{FieldQuantityUnit, &d.QuantityUnit},
		{FieldWorkCenter, &d.WorkCenter},
		{FieldJobPriority, &d.JobPriority},
	} {
		if !required(ref.field) {
			continue
		}
		var r domain.LookupRef
		if err := json.Unmarshal(in[ref.field], &r); err != nil {
			fail(ref.field, ref.field+" must be a valid lookup id")
			continue
		}
		id, ok := r.ID()
		if !ok {
			fail(ref.field, ref.field+" must be a valid lookup id")
			continue
		}
		*ref.dst = &id
	}

	if required(FieldPlannedStartTime) {
		t, ok := decodeTimestamp(in[FieldPlannedStartTime])
		if !ok || t == nil {
			fail(FieldPlannedStartTime, FieldPlannedStartTime+" must be a valid date")
		} else {
			d.PlannedStartTime = t
		}
	}

	for _, opt := range []struct {
		field string
		dst   *domain.Optional[*time.Time]
	}{
		{FieldReleaseDate, &d.ReleaseDate},
		{FieldDueDate, &d.DueDate},
	} {
		if !in.has(opt.field) {
			continue
		}
		t, ok := decodeTimestamp(in[opt.field])
		if !ok {
			fail(opt.field, opt.field+" must be a valid date")
			continue
		}
		*opt.dst = domain.Some(t)
	}

	if in.has(FieldNotes) {
		s, ok := decodeText(in[FieldNotes])
		if !ok || isJSONNull(in[FieldNotes]) {
			fail(FieldNotes, FieldNotes+" must be a string")
		} else {
			d.Notes = &s
		}
	}

	if in.has(FieldAttribute) {
		raw := in[FieldAttribute]
		if isJSONNull(raw) {
			d.Attribute = domain.Some[json.RawMessage](nil)
		} else {
			d.Attribute = domain.Some(json.RawMessage(bytes.TrimSpace(raw)))
		}
	}

	for _, rule := range jobFieldRules {
		if _, failed := errs[rule.field]; failed {
			continue
		}
		var value any
		switch rule.field {
		case FieldWorkOrder:
			if d.WorkOrder == nil {
				continue
			}
			value = *d.WorkOrder
		case FieldSalesOrder:
			if d.SalesOrder == nil {
				continue
			}
			value = *d.SalesOrder
		case FieldQuantityOrder:
			if d.QuantityOrder == nil {
				continue
			}
			value = *d.QuantityOrder
		}
		if err := getValidator().Var(value, rule.tag); err != nil {
			fail(rule.field, ruleMessage(rule.field, err))
		}
	}

	if len(errs) == 0 {
		return d, nil
	}
	details := make([]domain.FieldError, 0, len(errs))
	for _, f := range JobFields {
		if msg, ok := errs[f]; ok {
			details = append(details, domain.FieldError{Field: f, Message: msg})
		}
	}
	return JobDraft{}, domain.NewValidationError(details...)
}

func ruleMessage(field string, err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return field + " is invalid"
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s max length is %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s minimum is %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

// ValidateJobID rejects identifiers that are not UUIDs.
func ValidateJobID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.NewValidationError(domain.FieldError{Field: "id", Message: "Invalid UUID format"})
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeText accepts strings and numbers; null decodes to the empty string.
func decodeText(raw json.RawMessage) (string, bool) {
	if isJSONNull(raw) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// decodeInteger accepts JSON integers and integer strings.
func decodeInteger(raw json.RawMessage) (int, bool) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		return integerFromString(t.String())
	case string:
		return integerFromString(strings.TrimSpace(t))
	default:
		return 0, false
	}
}

func integerFromString(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// decodeTimestamp accepts null, an empty string, a timestamp string, or epoch
// milliseconds. A nil time with ok=true means the field was cleared.
func decodeTimestamp(raw json.RawMessage) (*time.Time, bool) {
	if isJSONNull(raw) {
		return nil, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil, true
		}
		t, ok := parseTimestamp(s)
		if !ok {
			return nil, false
		}
		return &t, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		ms, err := n.Int64()
		if err != nil {
			return nil, false
		}
		t := time.UnixMilli(ms).UTC()
		return &t, true
	}
	return nil, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimestamp parses the accepted timestamp layouts; zone-less values are UTC.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
