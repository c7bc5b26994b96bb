package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gyeh/medicare-lookup/internal/calc"
	"github.com/gyeh/medicare-lookup/internal/names"
	"github.com/gyeh/medicare-lookup/internal/report"
	"github.com/gyeh/medicare-lookup/internal/resolver"
	"github.com/gyeh/medicare-lookup/internal/worker"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Handler serves the lookup and report endpoints.
type Handler struct {
	resolver  worker.Resolver
	store     calc.Store
	reports   ReportSink
	logger    zerolog.Logger
	workers   int
	maxUpload int64
}

// NewHandler fills in defaults for unset options.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		resolver:  opts.Resolver,
		store:     opts.Store,
		reports:   opts.Reports,
		logger:    opts.Logger,
		workers:   opts.BulkWorkers,
		maxUpload: opts.MaxUpload,
	}
	if h.workers < 1 {
		h.workers = 1
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUpload
	}
	return h
}

// RegisterRoutes mounts the health check and the /api routes on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.handleRoot)
	e.GET("/healthz", h.handleHealth)

	api := e.Group("/api")
	api.POST("/physician", h.handlePhysician)
	api.POST("/physicians/bulk", h.handleBulk)
	api.POST("/physicians/bulk_file", h.handleBulkFile)
	api.POST("/store-calculation", h.handleStoreCalculation)
	api.POST("/hubspot-webhook", h.handleHubspotWebhook)
	api.POST("/send-report", h.handleSendReport)
}

func (h *Handler) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Medicare Revenue Calculator API is running"})
}

func (h *Handler) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type physicianRequest struct {
	SearchTerm string `json:"search_term"`
	State      string `json:"state"`
	SearchType string `json:"search_type"`
}

func (h *Handler) handlePhysician(c echo.Context) error {
	var body physicianRequest
	if err := c.Bind(&body); err != nil {
		return detail(http.StatusBadRequest, "invalid request body")
	}
	kind, err := resolver.ParseKind(body.SearchType)
	if err != nil {
		return detail(http.StatusBadRequest, "%s", err)
	}
	req := resolver.SearchRequest{Term: body.SearchTerm, Kind: kind, State: body.State}

	h.logger.Info().
		Str("search_type", kind.String()).
		Str("term", body.SearchTerm).
		Str("state", body.State).
		Msg("physician search")

	match, err := h.resolver.Resolve(c.Request().Context(), req)
	switch {
	case errors.Is(err, resolver.ErrEmptyTerm), errors.Is(err, resolver.ErrInvalidKind):
		return detail(http.StatusBadRequest, "%s", err)
	case err != nil:
		h.logger.Error().Err(err).Str("term", body.SearchTerm).Msg("physician search failed")
		return detail(http.StatusInternalServerError, "%s", err)
	case match == nil:
		return detail(http.StatusNotFound, "%s", notFoundDetail(req))
	}
	return c.JSON(http.StatusOK, match)
}

func notFoundDetail(req resolver.SearchRequest) string {
	label := "name"
	if req.Kind == resolver.ByNPI {
		label = "NPI"
	}
	msg := fmt.Sprintf("No physician found with %s '%s'", label, req.Term)
	if state := strings.ToUpper(strings.TrimSpace(req.State)); state != "" {
		msg += " in " + state
	}
	return msg
}

type bulkRequest struct {
	Names []string `json:"names"`
	State string   `json:"state"`
}

func (h *Handler) handleBulk(c echo.Context) error {
	var body bulkRequest
	if err := c.Bind(&body); err != nil {
		return detail(http.StatusBadRequest, "invalid request body")
	}
	h.logger.Info().Int("names", len(body.Names)).Msg("bulk name search")
	return h.resolveEntries(c, names.ParseList(body.Names), body.State)
}

type bulkFileRequest struct {
	Content string `json:"content"`
	State   string `json:"state"`
}

// handleBulkFile accepts either {"content": ...} or a multipart upload in the
// "file" field.
func (h *Handler) handleBulkFile(c echo.Context) error {
	var body bulkFileRequest
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		content, err := h.readUpload(c)
		if err != nil {
			return err
		}
		body.Content = content
		body.State = c.FormValue("state")
	} else if err := c.Bind(&body); err != nil {
		return detail(http.StatusBadRequest, "invalid request body")
	}

	h.logger.Info().Int("bytes", len(body.Content)).Msg("bulk file search")
	return h.resolveEntries(c, names.ParseFile(body.Content), body.State)
}

func (h *Handler) readUpload(c echo.Context) (string, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return "", detail(http.StatusBadRequest, "file is required")
	}
	if file.Size > h.maxUpload {
		return "", detail(http.StatusRequestEntityTooLarge, "file exceeds %d bytes", h.maxUpload)
	}
	src, err := file.Open()
	if err != nil {
		return "", detail(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxUpload+1))
	if err != nil {
		return "", detail(http.StatusInternalServerError, "reading uploaded file: %s", err)
	}
	if int64(len(data)) > h.maxUpload {
		return "", detail(http.StatusRequestEntityTooLarge, "file exceeds %d bytes", h.maxUpload)
	}
	return string(data), nil
}

// resolveEntries runs the batch and responds with the matches only. Lookups
// that fail or match nothing are logged and left out.
func (h *Handler) resolveEntries(c echo.Context, entries []names.Entry, state string) error {
	if len(entries) == 0 {
		h.logger.Warn().Msg("no valid names found")
		return c.JSON(http.StatusOK, []resolver.MatchResult{})
	}

	start := time.Now()
	pool := &worker.Pool{Workers: h.workers, Resolver: h.resolver, Logger: h.logger}
	results := pool.Run(c.Request().Context(), worker.NameRequests(entries, state))

	sum := worker.Summarize(results)
	h.logger.Info().
		Int("requested", sum.Requested).
		Int("matched", sum.Matched).
		Int("not_found", sum.NotFound).
		Int("failed", sum.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("bulk processing complete")

	return c.JSON(http.StatusOK, worker.Matches(results))
}

func (h *Handler) handleStoreCalculation(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxUpload+1))
	if err != nil {
		return detail(http.StatusBadRequest, "reading body: %s", err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return detail(http.StatusBadRequest, "calculation must be a JSON object")
	}

	id, err := h.store.Put(c.Request().Context(), json.RawMessage(data))
	if errors.Is(err, calc.ErrEmptyPayload) {
		return detail(http.StatusBadRequest, "%s", err)
	}
	if err != nil {
		return detail(http.StatusInternalServerError, "%s", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"calc_id": id})
}

type webhookRequest struct {
	Email  string `json:"email"`
	CalcID string `json:"calc_id"`
}

func (h *Handler) handleHubspotWebhook(c echo.Context) error {
	var body webhookRequest
	if err := c.Bind(&body); err != nil {
		return detail(http.StatusBadRequest, "invalid request body")
	}
	if body.Email == "" || body.CalcID == "" {
		h.logger.Error().Msg("missing email or calc_id in webhook data")
		return detail(http.StatusBadRequest, "Missing email or calc_id.")
	}

	ctx := c.Request().Context()
	raw, err := h.store.Get(ctx, body.CalcID)
	if errors.Is(err, calc.ErrNotFound) {
		h.logger.Error().Str("calc_id", body.CalcID).Msg("calculation data not found")
		return detail(http.StatusNotFound, "Calculation data not found.")
	}
	if err != nil {
		return detail(http.StatusInternalServerError, "%s", err)
	}

	r, err := report.FromCalculation(raw)
	if err != nil {
		return detail(http.StatusInternalServerError, "%s", err)
	}
	if err := h.reports.DeliverPDF(ctx, body.Email, body.CalcID, r); err != nil {
		h.logger.Error().Err(err).Str("calc_id", body.CalcID).Msg("sending report failed")
		return detail(http.StatusInternalServerError, "%s", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Report sent successfully"})
}

type sendReportRequest struct {
	Email              string                    `json:"email"`
	CalculationResults report.CalculationResults `json:"calculationResults"`
	ProviderData       report.ProviderData       `json:"providerData"`
}

func (h *Handler) handleSendReport(c echo.Context) error {
	var body sendReportRequest
	if err := c.Bind(&body); err != nil {
		return detail(http.StatusBadRequest, "invalid request body")
	}
	if body.Email == "" {
		return detail(http.StatusBadRequest, "%s", report.ErrNoRecipient)
	}

	h.logger.Info().Str("email", body.Email).Msg("sending summary report")
	r := report.FromSummary(body.CalculationResults, body.ProviderData)
	if err := h.reports.DeliverSummary(c.Request().Context(), body.Email, r); err != nil {
		h.logger.Error().Err(err).Msg("sending summary failed")
		return detail(http.StatusInternalServerError, "%s", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Report sent successfully"})
}
