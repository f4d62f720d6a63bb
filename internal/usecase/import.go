package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/print-mes/internal/domain"
	"github.com/fairyhunter13/print-mes/internal/observability"
	"github.com/fairyhunter13/print-mes/pkg/textx"
)

// Row number offsets: spreadsheets carry one header row, JSON arrays none.
const (
	SpreadsheetRowOffset = 2
	JSONRowOffset        = 1
)

// ImportDateFields are the row fields parsed as timestamps.
var ImportDateFields = []string{FieldPlannedStartTime, FieldReleaseDate, FieldDueDate}

// ImportPolicy is the immutable key policy for bulk payloads.
type ImportPolicy struct {
	allowed   []string
	forbidden []string
	// MaxRows caps rows per call; zero means unlimited.
	MaxRows int
}

// DefaultImportPolicy allows exactly the job fields and rejects
// prototype-pollution keys.
func DefaultImportPolicy(maxRows int) ImportPolicy {
	return ImportPolicy{
		allowed:   slices.Clone(JobFields),
		forbidden: []string{"__proto__", "prototype", "constructor"},
		MaxRows:   maxRows,
	}
}

// Allows reports whether a normalised key is a job field.
func (p ImportPolicy) Allows(key string) bool { return slices.Contains(p.allowed, key) }

// Forbids reports whether a raw key is rejected outright.
func (p ImportPolicy) Forbids(key string) bool { return slices.Contains(p.forbidden, key) }

// ImportRow is a coerced, preview-valid row. Row is the source row number.
type ImportRow struct {
	Row              int             `json:"__row"`
	WorkOrder        string          `json:"work_order"`
	SalesOrder       string          `json:"sales_order"`
	QuantityOrder    *int            `json:"quantity_order"`
	QuantityUnit     *int64          `json:"quantity_unit"`
	WorkCenter       *int64          `json:"work_center"`
	PlannedStartTime *time.Time      `json:"planned_start_time"`
	ReleaseDate      *time.Time      `json:"release_date"`
	DueDate          *time.Time      `json:"due_date"`
	JobPriority      *int64          `json:"job_priority"`
	Notes            string          `json:"notes"`
	Attribute        json.RawMessage `json:"attribute"`
}

// Input renders the row as a create payload.
func (r ImportRow) Input() JobInput {
	in := JobInput{}
	put := func(field string, v any) {
		b, err := json.Marshal(v)
		if err != nil {
			b = []byte("null")
		}
		in[field] = b
	}
	put(FieldWorkOrder, r.WorkOrder)
	put(FieldSalesOrder, r.SalesOrder)
	put(FieldQuantityOrder, r.QuantityOrder)
	put(FieldQuantityUnit, r.QuantityUnit)
	put(FieldWorkCenter, r.WorkCenter)
	put(FieldPlannedStartTime, r.PlannedStartTime)
	put(FieldReleaseDate, r.ReleaseDate)
	put(FieldDueDate, r.DueDate)
	put(FieldJobPriority, r.JobPriority)
	put(FieldNotes, r.Notes)
	if len(r.Attribute) == 0 {
		in[FieldAttribute] = json.RawMessage("null")
	} else {
		in[FieldAttribute] = r.Attribute
	}
	return in
}

// ImportPreview is the read-only outcome of validating a bulk row set.
type ImportPreview struct {
	TotalRows   int                     `json:"total_rows"`
	ValidRows   int                     `json:"valid_rows"`
	InvalidRows int                     `json:"invalid_rows"`
	Data        []ImportRow             `json:"data"`
	Errors      []domain.ImportRowError `json:"errors"`
}

// BatchOutcome distinguishes a rejected preview from creation-loop results.
type BatchOutcome string

const (
	// BatchRejected means the preview failed and nothing was created.
	BatchRejected BatchOutcome = "rejected"
	// BatchCreated means every row was created.
	BatchCreated BatchOutcome = "created"
	// BatchPartial means the creation loop ran and at least one row failed.
	BatchPartial BatchOutcome = "partial"
)

// BatchCreateResult aggregates per-row creation outcomes.
type BatchCreateResult struct {
	Outcome      BatchOutcome
	CreatedCount int
	FailedCount  int
	Created      []domain.JobView
	Errors       []domain.ImportRowError
}

// ImportService runs the bulk preview and batch-create pipelines.
type ImportService struct {
	Jobs    JobService
	Policy  ImportPolicy
	Lookups LookupService
}

// NewImportService constructs an ImportService on top of the job service.
func NewImportService(jobs JobService, policy ImportPolicy) ImportService {
	return ImportService{Jobs: jobs, Policy: policy, Lookups: jobs.Lookups}
}

// NormalizeImportRow maps every key to its canonical lower_snake form. When
// several raw keys normalise to the same name, a key already in canonical
// form wins; otherwise the key that sorts last does.
func NormalizeImportRow(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	exact := make(map[string]bool, len(raw))
	for _, k := range slices.Sorted(maps.Keys(raw)) {
		nk := textx.NormalizeKey(k)
		if exact[nk] {
			continue
		}
		out[nk] = raw[k]
		exact[nk] = k == nk
	}
	return out
}

// Preview validates rows without writing. Row numbers are index+rowOffset.
func (s ImportService) Preview(ctx domain.Context, rows []map[string]any, rowOffset int) (ImportPreview, error) {
	if s.Policy.MaxRows > 0 && len(rows) > s.Policy.MaxRows {
		return ImportPreview{}, domain.NewValidationError(domain.FieldError{
			Field:   "body",
			Message: fmt.Sprintf("At most %d rows are allowed per import", s.Policy.MaxRows),
		})
	}
	catalog, err := s.Lookups.Catalog(ctx, JobLookupTypes...)
	if err != nil {
		return ImportPreview{}, err
	}

	var errs []domain.ImportRowError
	candidates := make([]ImportRow, 0, len(rows))
	for i, raw := range rows {
		c := rowCoercer{row: i + rowOffset, catalog: catalog}
		candidates = append(candidates, c.coerce(NormalizeImportRow(raw)))
		errs = append(errs, c.errs...)
	}

	errs = append(errs, fileDuplicates(candidates)...)

	persisted, err := s.persistedConflicts(ctx, candidates)
	if err != nil {
		return ImportPreview{}, err
	}
	errs = append(errs, persisted...)

	bad := map[int]struct{}{}
	for _, e := range errs {
		bad[e.Row] = struct{}{}
	}
	data := make([]ImportRow, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := bad[c.Row]; !ok {
			data = append(data, c)
		}
	}
	if errs == nil {
		errs = []domain.ImportRowError{}
	}
	p := ImportPreview{
		TotalRows:   len(rows),
		ValidRows:   len(data),
		InvalidRows: len(bad),
		Data:        data,
		Errors:      errs,
	}
	observability.LoggerFromContext(ctx).Info("import previewed",
		slog.Int("total_rows", p.TotalRows),
		slog.Int("valid_rows", p.ValidRows),
		slog.Int("invalid_rows", p.InvalidRows))
	return p, nil
}

// fileDuplicates flags every repeat of a work order or schedule slot after
// its first occurrence.
func fileDuplicates(candidates []ImportRow) []domain.ImportRowError {
	var errs []domain.ImportRowError
	workOrders := map[string]int{}
	slots := map[string]int{}
	for _, c := range candidates {
		if c.WorkOrder != "" {
			if first, ok := workOrders[c.WorkOrder]; ok {
				errs = append(errs, domain.ImportRowError{
					Row:     c.Row,
					Field:   FieldWorkOrder,
					Message: fmt.Sprintf("Duplicate work_order in file (first found at row %d)", first),
					Value:   c.WorkOrder,
				})
			} else {
				workOrders[c.WorkOrder] = c.Row
			}
		}
		if c.WorkCenter != nil && c.PlannedStartTime != nil {
			key := SlotLockKey(*c.WorkCenter, *c.PlannedStartTime)
			if first, ok := slots[key]; ok {
				errs = append(errs, domain.ImportRowError{
					Row:     c.Row,
					Field:   FieldPlannedStartTime,
					Message: fmt.Sprintf("Duplicate work_center + planned_start_time in file (first found at row %d)", first),
				})
			} else {
				slots[key] = c.Row
			}
		}
	}
	return errs
}

// persistedConflicts checks work orders with one batched query and probes
// the schedule slot of each row carrying both work center and start time.
func (s ImportService) persistedConflicts(ctx domain.Context, candidates []ImportRow) ([]domain.ImportRowError, error) {
	var errs []domain.ImportRowError
	seen := map[string]struct{}{}
	var workOrders []string
	for _, c := range candidates {
		if c.WorkOrder == "" {
			continue
		}
		if _, ok := seen[c.WorkOrder]; !ok {
			seen[c.WorkOrder] = struct{}{}
			workOrders = append(workOrders, c.WorkOrder)
		}
	}
	if len(workOrders) > 0 {
		existing, err := s.Jobs.Jobs.ExistingWorkOrders(ctx, workOrders)
		if err != nil {
			return nil, err
		}
		taken := make(map[string]struct{}, len(existing))
		for _, wo := range existing {
			taken[wo] = struct{}{}
		}
		for _, c := range candidates {
			if _, ok := taken[c.WorkOrder]; ok {
				errs = append(errs, domain.ImportRowError{Row: c.Row, Field: FieldWorkOrder, Message: "Work order already exists", Value: c.WorkOrder})
			}
		}
	}
	for _, c := range candidates {
		if c.WorkCenter == nil || c.PlannedStartTime == nil {
			continue
		}
		taken, err := s.Jobs.Jobs.SlotTaken(ctx, *c.WorkCenter, *c.PlannedStartTime, "")
		if err != nil {
			return nil, err
		}
		if taken {
			errs = append(errs, domain.ImportRowError{
				Row:     c.Row,
				Field:   FieldPlannedStartTime,
				Message: domain.ScheduleConflictMessage,
				Value:   c.PlannedStartTime.UTC().Format(time.RFC3339Nano),
			})
		}
	}
	return errs, nil
}

// BatchCreate gates the payload shape, previews it as a whole and, only when
// every row is valid, creates the rows one by one. A row that fails during
// creation does not undo or block the others.
func (s ImportService) BatchCreate(ctx domain.Context, items []any) (BatchCreateResult, error) {
	if len(items) == 0 {
		return BatchCreateResult{}, domain.NewValidationError(domain.FieldError{Field: "body", Message: "Request body must be a non-empty JSON array"})
	}
	var gate []domain.FieldError
	rows := make([]map[string]any, 0, len(items))
	for i, item := range items {
		rowNumber := i + JSONRowOffset
		obj, ok := item.(map[string]any)
		if !ok || obj == nil {
			gate = append(gate, domain.FieldError{Field: fmt.Sprintf("row[%d]", rowNumber), Message: "Each item must be a plain JSON object"})
			rows = append(rows, map[string]any{})
			continue
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if s.Policy.Forbids(k) {
				gate = append(gate, domain.FieldError{Field: fmt.Sprintf("row[%d].%s", rowNumber, k), Message: "Forbidden key is not allowed"})
			}
		}
		for _, k := range keys {
			if nk := textx.NormalizeKey(k); !s.Policy.Allows(nk) {
				gate = append(gate, domain.FieldError{Field: fmt.Sprintf("row[%d].%s", rowNumber, nk), Message: "Unknown field is not allowed in batch-create payload"})
			}
		}
		rows = append(rows, obj)
	}
	if len(gate) > 0 {
		return BatchCreateResult{}, domain.NewValidationError(gate...)
	}

	preview, err := s.Preview(ctx, rows, JSONRowOffset)
	if err != nil {
		return BatchCreateResult{}, err
	}
	if preview.InvalidRows > 0 {
		return BatchCreateResult{
			Outcome:     BatchRejected,
			FailedCount: preview.InvalidRows,
			Created:     []domain.JobView{},
			Errors:      preview.Errors,
		}, nil
	}

	res := BatchCreateResult{Created: []domain.JobView{}, Errors: []domain.ImportRowError{}}
	failed := map[int]struct{}{}
	for _, row := range preview.Data {
		in := row.Input()
		v, err := s.Jobs.Add(ctx, in)
		if err == nil {
			res.Created = append(res.Created, v)
			continue
		}
		failed[row.Row] = struct{}{}
		res.Errors = append(res.Errors, rowErrors(row.Row, in, err)...)
	}
	res.CreatedCount = len(res.Created)
	res.FailedCount = len(failed)
	res.Outcome = BatchCreated
	if res.FailedCount > 0 {
		res.Outcome = BatchPartial
	}
	observability.LoggerFromContext(ctx).Info("batch created",
		slog.String("outcome", string(res.Outcome)),
		slog.Int("created_count", res.CreatedCount),
		slog.Int("failed_count", res.FailedCount))
	return res, nil
}

// rowErrors attributes a create failure to its row, one entry per field
// detail, or a single row-level entry when the error has no field details.
func rowErrors(row int, in JobInput, err error) []domain.ImportRowError {
	var details []domain.FieldError
	var ve *domain.ValidationError
	var ce *domain.ConflictError
	switch {
	case errors.As(err, &ve):
		details = ve.Details
	case errors.As(err, &ce):
		details = ce.Details
	}
	if len(details) == 0 {
		return []domain.ImportRowError{{Row: row, Field: "row", Message: err.Error()}}
	}
	out := make([]domain.ImportRowError, 0, len(details))
	for _, d := range details {
		e := domain.ImportRowError{Row: row, Field: d.Field, Message: d.Message}
		if raw, ok := in[d.Field]; ok {
			e.Value = raw
		}
		out = append(out, e)
	}
	return out
}

// rowCoercer converts one normalised row, collecting row-scoped errors.
type rowCoercer struct {
	row     int
	catalog LookupCatalog
	errs    []domain.ImportRowError
}

func (c *rowCoercer) fail(field, msg string, value any) {
	c.errs = append(c.errs, domain.ImportRowError{Row: c.row, Field: field, Message: msg, Value: value})
}

func (c *rowCoercer) coerce(row map[string]any) ImportRow {
	out := ImportRow{Row: c.row}
	out.WorkOrder = textx.SanitizeText(cellString(row[FieldWorkOrder]))
	out.SalesOrder = textx.SanitizeText(cellString(row[FieldSalesOrder]))
	for _, f := range []struct {
		field string
		value string
	}{{FieldWorkOrder, out.WorkOrder}, {FieldSalesOrder, out.SalesOrder}} {
		switch {
		case f.value == "":
			c.fail(f.field, f.field+" is required", nil)
		case len([]rune(f.value)) > domain.MaxOrderNumberLength:
			c.fail(f.field, fmt.Sprintf("%s max length is %d", f.field, domain.MaxOrderNumberLength), f.value)
		}
	}

	out.QuantityOrder = c.integer(FieldQuantityOrder, row[FieldQuantityOrder], domain.DefaultQuantityOrder)
	out.PlannedStartTime = c.date(FieldPlannedStartTime, row[FieldPlannedStartTime])
	out.ReleaseDate = c.date(FieldReleaseDate, row[FieldReleaseDate])
	out.DueDate = c.date(FieldDueDate, row[FieldDueDate])
	out.Attribute = c.jsonValue(FieldAttribute, row[FieldAttribute])
	out.QuantityUnit = c.lookup(FieldQuantityUnit, domain.LookupQuantityUnit, row[FieldQuantityUnit])
	out.WorkCenter = c.lookup(FieldWorkCenter, domain.LookupWorkCenter, row[FieldWorkCenter])
	out.JobPriority = c.lookup(FieldJobPriority, domain.LookupJobPriority, row[FieldJobPriority])

	out.Notes = domain.DefaultNotes
	if v, ok := row[FieldNotes]; ok && v != nil {
		out.Notes = textx.SanitizeText(cellString(v))
	}
	return out
}

func isEmptyCell(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

func (c *rowCoercer) date(field string, v any) *time.Time {
	if isEmptyCell(v) {
		return nil
	}
	var (
		t  time.Time
		ok bool
	)
	switch x := v.(type) {
	case time.Time:
		t, ok = x.UTC(), true
	case json.Number:
		if ms, err := x.Int64(); err == nil {
			t, ok = time.UnixMilli(ms).UTC(), true
		}
	case float64:
		if x == float64(int64(x)) {
			t, ok = time.UnixMilli(int64(x)).UTC(), true
		}
	case string:
		t, ok = parseTimestamp(x)
	}
	if !ok {
		c.fail(field, field+" must be a valid date", v)
		return nil
	}
	return &t
}

func (c *rowCoercer) integer(field string, v any, def int) *int {
	if isEmptyCell(v) {
		return &def
	}
	n, ok := integerFromString(strings.TrimSpace(cellString(v)))
	if !ok || n < 1 {
		c.fail(field, field+" must be integer >= 1", v)
		return nil
	}
	return &n
}

func (c *rowCoercer) jsonValue(field string, v any) json.RawMessage {
	if isEmptyCell(v) {
		return nil
	}
	if s, ok := v.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			c.fail(field, field+" must be a valid JSON object/string", v)
			return nil
		}
		return json.RawMessage(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		c.fail(field, field+" must be a valid JSON object/string", v)
		return nil
	}
	return b
}

func (c *rowCoercer) lookup(field, lookupType string, v any) *int64 {
	if isEmptyCell(v) {
		c.fail(field, field+" is required", nil)
		return nil
	}
	s := strings.TrimSpace(cellString(v))
	if id, ok := integerFromString(s); ok {
		if l, found := c.catalog.ByID(lookupType, int64(id)); found {
			return &l.ID
		}
		c.fail(field, fmt.Sprintf("%s lookup not found for type %s", field, lookupType), v)
		return nil
	}
	l, found := c.catalog.ByCode(lookupType, s)
	if !found {
		c.fail(field, fmt.Sprintf("%s lookup code not found for type %s", field, lookupType), v)
		return nil
	}
	return &l.ID
}
