package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/print-mes/internal/domain"
)

const maxJSONBody = 4 << 20

var errBodyTooLarge = fmt.Errorf("%w: request body too large", domain.ErrInvalidArgument)

// fileError is the field-attributed error used by the upload checks.
func fileError(msg string) error {
	return domain.NewValidationError(domain.FieldError{Field: "file", Message: msg})
}

// allowedWorkbookExt accepts .xlsx and .xls names only.
func allowedWorkbookExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return true
	}
	return false
}

// allowedWorkbookMIME reports whether sniffed content looks like a workbook.
// Legacy .xls files are OLE containers; .xlsx files are zip archives.
func allowedWorkbookMIME(m *mimetype.MIME) bool {
	for _, ok := range []string{
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
		"application/x-ole-storage",
		"application/zip",
	} {
		if m.Is(ok) {
			return true
		}
	}
	return false
}

// readUpload pulls the multipart "file" part and runs the extension and
// content checks. The returned bytes are the whole file.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, fileError("Excel file is required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errBodyTooLarge
		}
		return nil, fileError("Excel file is required")
	}
	f, h, err := r.FormFile("file")
	if err != nil {
		return nil, fileError("Excel file is required")
	}
	defer func() { _ = f.Close() }()
	if !allowedWorkbookExt(h.Filename) {
		return nil, fileError("Only .xlsx or .xls files are allowed")
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fileError("Excel file is required")
	}
	if len(data) == 0 {
		return nil, fileError("Excel file is required")
	}
	if !allowedWorkbookMIME(mimetype.Detect(data)) {
		return nil, fileError("Failed to parse excel file")
	}
	return data, nil
}

// readBody reads a capped JSON request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("%w: unreadable body", domain.ErrInvalidArgument)
	}
	return b, nil
}

// decodeArray parses a JSON array body, keeping numbers as json.Number.
func decodeArray(b []byte) ([]any, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, domain.NewValidationError(domain.FieldError{Field: "body", Message: "Request body must be a non-empty JSON array"})
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	return items, nil
}

// objectRows requires every item to be a JSON object; offset numbers rows.
func objectRows(items []any, offset int) ([]map[string]any, error) {
	rows := make([]map[string]any, 0, len(items))
	var details []domain.FieldError
	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			details = append(details, domain.FieldError{Field: fmt.Sprintf("row[%d]", i+offset), Message: "Each item must be a plain JSON object"})
			continue
		}
		rows = append(rows, obj)
	}
	if len(details) > 0 {
		return nil, domain.NewValidationError(details...)
	}
	return rows, nil
}
