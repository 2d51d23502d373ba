package errcodes

import (
	"fmt"
	"net/http"

	"github.com/iancoleman/strcase"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/errutils"
)

// Mapping renders a domain sentinel, matched with errors.Is, as an HTTP
// error.
type Mapping struct {
	Err    error
	Render func(err error) error
}

type Handler struct {
	mappings []Mapping
}

func NewHandler(mappings ...Mapping) *Handler {
	return &Handler{mappings: mappings}
}

type body struct {
	Error payload `json:"error"`
}

type payload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// Handle is an Echo error handler. Custom errors and Echo errors keep their
// status code, mapped sentinels are translated first, and anything else is a
// 500 that gets logged.
func (h *Handler) Handle(err error, c echo.Context) {
	log := logger.FromEchoContext(c)
	if errutils.IsIgnorableErr(err) {
		log.Err(err).Warn("broken pipe")
		return
	}

	p := h.render(h.translate(err))
	if p.StatusCode == http.StatusInternalServerError {
		log.Err(err).Error("server error")
	}

	if c.Response().Committed {
		return
	}
	if err := c.JSON(p.StatusCode, body{Error: p}); err != nil {
		log.Err(errors.WithStack(err)).Error("error handler json error")
	}
}

func (h *Handler) translate(err error) error {
	for _, m := range h.mappings {
		if errors.Is(err, m.Err) {
			return m.Render(err)
		}
	}
	return err
}

func (h *Handler) render(err error) payload {
	var e *Error
	if errors.As(err, &e) {
		return payload{Code: e.Code, Message: e.Message, StatusCode: e.HTTPCode}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprint(he.Message)
		if he.Message == nil {
			msg = http.StatusText(he.Code)
		}
		return payload{Code: strcase.ToSnake(msg), Message: msg, StatusCode: he.Code}
	}

	return payload{
		Code:       "internal_server_error",
		Message:    "Internal Server Error",
		StatusCode: http.StatusInternalServerError,
	}
}
