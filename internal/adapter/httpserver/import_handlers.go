package httpserver

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/print-mes/internal/adapter/observability"
	"github.com/fairyhunter13/print-mes/internal/adapter/spreadsheet"
	"github.com/fairyhunter13/print-mes/internal/usecase"
)

// templateSample is the example row written under the template header.
var templateSample = []any{
	"WO-2026-0001", "SO-2026-0188", 1, "BK", "Jasuindo.OffsetPrinter.Taiyo1",
	"2026-02-20T08:00:00.000Z", "", "2026-02-21T16:00:00.000Z",
	"HIGH", "Print urgent order", `{"customer":"ABC","color":"CMYK"}`,
}

// ImportTemplateHandler streams the xlsx import template.
func (s *Server) ImportTemplateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := spreadsheet.WriteTemplate(&buf, usecase.JobFields, templateSample); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", spreadsheet.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+spreadsheet.TemplateFilename+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

// PreviewUploadHandler validates an uploaded workbook without writing.
func (s *Server) PreviewUploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := readUpload(w, r, s.Cfg.MaxUploadBytes())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		rows, err := spreadsheet.ReadRows(bytes.NewReader(data), usecase.ImportDateFields)
		if err != nil {
			if errors.Is(err, spreadsheet.ErrUnreadable) {
				err = fileError("Failed to parse excel file")
			}
			writeError(w, r, err, nil)
			return
		}
		s.preview(w, r, "xlsx", rows, usecase.SpreadsheetRowOffset)
	}
}

// PreviewJSONHandler validates a JSON array of rows without writing.
func (s *Server) PreviewJSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		items, err := decodeArray(body)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		rows, err := objectRows(items, usecase.JSONRowOffset)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.preview(w, r, "json", rows, usecase.JSONRowOffset)
	}
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request, source string, rows []map[string]any, offset int) {
	p, err := s.Imports.Preview(r.Context(), rows, offset)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	observability.RecordImportPreview(source, p.ValidRows, p.InvalidRows)
	writeJSON(w, http.StatusOK, p)
}

// BatchCreateHandler creates reviewed rows. 201 when every row was created,
// 200 with outcome rejected or partial otherwise.
func (s *Server) BatchCreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		items, err := decodeArray(body)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		res, err := s.Imports.BatchCreate(r.Context(), items)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		observability.RecordBatchCreate(string(res.Outcome))
		observability.RecordJobCreated("batch", res.CreatedCount)
		status := http.StatusOK
		if res.Outcome == usecase.BatchCreated {
			status = http.StatusCreated
		}
		writeJSON(w, status, toBatchCreateResponse(res))
	}
}
