package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/booknest/booknest/pkg/batches"
	"github.com/booknest/booknest/pkg/binder"
	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/errcodes"
	"github.com/booknest/booknest/pkg/indexing"
	"github.com/booknest/booknest/pkg/version"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
)

func New(cfg *config.Config, idx indexing.Indexer) (*http.Server, error) {
	e, err := newEcho(idx)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func newEcho(idx indexing.Indexer) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)
	e.GET("/version", versionHandler)

	indexing.RegisterRoutes(e, idx)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler(errcodes.Mapping{
		Err: batches.ErrInvalidTransition,
		Render: func(error) error {
			return errcodes.Conflict("Batch status changed while the request ran, try again.")
		},
	}).Handle

	return e, nil
}

func versionHandler(c echo.Context) error {
	return errors.WithStack(c.JSON(http.StatusOK, map[string]string{"version": version.Version}))
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
