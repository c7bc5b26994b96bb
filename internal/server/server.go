// Package server exposes physician lookup and the calculator report flow over
// HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/gyeh/medicare-lookup/internal/calc"
	"github.com/gyeh/medicare-lookup/internal/report"
	"github.com/gyeh/medicare-lookup/internal/worker"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

const defaultMaxUpload = 5 << 20

// ReportSink renders and delivers calculator reports. *report.Service
// implements it.
type ReportSink interface {
	DeliverPDF(ctx context.Context, recipient, id string, r report.Report) error
	DeliverSummary(ctx context.Context, recipient string, r report.Report) error
}

// Options configures New. Resolver, Store and Reports are required.
type Options struct {
	Resolver    worker.Resolver
	Store       calc.Store
	Reports     ReportSink
	Logger      zerolog.Logger
	BulkWorkers int
	CORSOrigins []string
	MaxUpload   int64 // bytes accepted for an uploaded name file
}

// New builds the echo instance with middleware and all routes registered.
func New(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler

	e.Use(RequestID())
	e.Use(Logger(opts.Logger))
	e.Use(Recovery(opts.Logger))
	if len(opts.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"*"},
			AllowCredentials: true,
		}))
	}

	NewHandler(opts).RegisterRoutes(e)
	return e
}
