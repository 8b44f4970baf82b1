package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/malbeclabs/bounty/allocator/pkg/allocation"
	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/export"
	"github.com/malbeclabs/bounty/allocator/pkg/ingest"
	"github.com/malbeclabs/bounty/allocator/pkg/participation"
	"github.com/malbeclabs/bounty/api/metrics"
)

const (
	DefaultMaxBodyBytes = 32 << 20 // 32MB

	// ChecksumHeader carries the SHA-256 of a CSV response body.
	ChecksumHeader = "X-Checksum-Sha256"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type Config struct {
	Logger       *slog.Logger
	Catalog      *catalog.Catalog
	Columns      ingest.Columns
	MaxBodyBytes int64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if err := cfg.Columns.Validate(); err != nil {
		return err
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return nil
}

type Handlers struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handlers{log: cfg.Logger, cfg: cfg}, nil
}

// CatalogResponse is the configuration the allocation endpoint runs with.
type CatalogResponse struct {
	Campaigns        []catalog.Campaign `json:"campaigns"`
	Aliases          []catalog.Alias    `json:"aliases"`
	Delimiter        string             `json:"delimiter"`
	MemberCapPercent int64              `json:"member_cap_percent"`
	Weeks            []string           `json:"weeks"`
}

// GetCatalog returns the campaign catalog.
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	cat := h.cfg.Catalog
	writeJSON(w, http.StatusOK, CatalogResponse{
		Campaigns:        cat.Campaigns(),
		Aliases:          cat.Aliases(),
		Delimiter:        cat.Delimiter(),
		MemberCapPercent: cat.MemberCapPercent(),
		Weeks:            cat.WeekLabels(),
	})
}

// PostAllocations computes allocations for a CSV body of submissions.
// The response is the full result as JSON, or the detail table when format=csv.
func (h *Handlers) PostAllocations(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = string(export.FormatJSON)
	}
	if format != string(export.FormatJSON) && format != string(export.FormatCSV) {
		metrics.RecordAllocation("bad_request", 0)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q, expected json or csv", format))
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	rows, err := ingest.ReadCSV(body, h.cfg.Columns)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.RecordAllocation("bad_request", 0)
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		metrics.RecordAllocation("bad_request", 0)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := allocation.Compute(rows, h.cfg.Catalog)
	if err != nil {
		metrics.RecordAllocation("bad_request", len(rows))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Debug("api: computed allocations", "rows", len(rows), "members", len(result.Members), "warnings", len(result.Warnings))
	if len(result.Warnings) > 0 {
		h.log.Info("api: allocation warnings", "counts", participation.CountByKind(result.Warnings))
	}

	if format == string(export.FormatCSV) {
		data, checksum, err := export.DetailCSV(result.Detail)
		if err != nil {
			h.log.Error("api: failed to render csv", "error", err)
			metrics.RecordAllocation("error", len(rows))
			writeError(w, http.StatusInternalServerError, "failed to render csv")
			return
		}
		metrics.RecordAllocation("success", len(rows))
		w.Header().Set("Content-Type", export.FormatCSV.ContentType())
		w.Header().Set(ChecksumHeader, checksum)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			h.log.Error("api: failed to write csv response", "error", err)
		}
		return
	}

	metrics.RecordAllocation("success", len(rows))
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
