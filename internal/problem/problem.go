// Package problem renders errors as RFC 7807 problem details.
package problem

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// ContentType is the media type of problem responses.
const ContentType = "application/problem+json"

const (
	// TypeDefault is used when a problem has no more specific type.
	TypeDefault = "about:blank"
	// TitleGeneric is the title of unclassified server failures.
	TitleGeneric = "An error occurred while processing your request."
)

// Details is a problem response body. It implements error so handlers can
// return it and let ErrorHandler render it.
type Details struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (d *Details) Error() string {
	if d.Detail != "" {
		return d.Title + ": " + d.Detail
	}
	return d.Title
}

// New builds a problem with an explicit type.
func New(status int, typ, title, detail string) *Details {
	return &Details{Type: typ, Title: title, Status: status, Detail: detail}
}

// Generic builds the untyped problem returned for unexpected failures.
func Generic() *Details {
	return &Details{Type: TypeDefault, Title: TitleGeneric, Status: http.StatusInternalServerError}
}

// Write sends d as the response.
func Write(c *fiber.Ctx, d *Details) error {
	if d.Instance == "" {
		d.Instance = c.Path()
	}
	return c.Status(d.Status).JSON(d, ContentType)
}

// ErrorHandler renders any error returned by a handler as a problem response.
// *Details pass through, *fiber.Error keep their status, anything else is a
// generic 500.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var details *Details
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &details):
			return Write(c, &Details{
				Type:   details.Type,
				Title:  details.Title,
				Status: details.Status,
				Detail: details.Detail,
			})
		case errors.As(err, &fiberErr):
			return Write(c, &Details{
				Type:   TypeDefault,
				Title:  http.StatusText(fiberErr.Code),
				Status: fiberErr.Code,
				Detail: fiberErr.Message,
			})
		default:
			if logger != nil {
				logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
			}
			return Write(c, Generic())
		}
	}
}
