package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kiyor/terminal/color"

	"github.com/kiyor/k2share/pkg/metrics"
)

// LogHandler is a request logger for the Fiber app.
type LogHandler struct {
	l *log.Logger
}

// NewLogHandler creates a new LogHandler.
func NewLogHandler() *LogHandler {
	return &LogHandler{
		l: log.New(os.Stdout, color.Sprint("@{g}[http]@{|} "), log.LstdFlags),
	}
}

// NewLogger returns a logger with a colored tag prefix, e.g. NewLogger("@{c}", "serve").
func NewLogger(colorCode, tag string) *log.Logger {
	return log.New(os.Stdout, color.Sprint(colorCode+"["+tag+"]@{|} "), log.LstdFlags)
}

// Set allows configuring the logger's output, prefix, and flags.
func (l *LogHandler) Set(out io.Writer, prefix string, flag int) {
	l.l = log.New(out, prefix, flag)
}

// Handler logs every request after it completes and feeds request metrics.
func (l *LogHandler) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		t1 := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		length := c.Response().Header.ContentLength()
		if length <= 0 && !c.Response().IsBodyStream() {
			length = len(c.Response().Body())
		}
		dur := time.Since(t1)
		reqURI := c.OriginalURL()
		ua := c.Get(fiber.HeaderUserAgent)
		res := fmt.Sprintf("%v %v %v %v %v %v '%v'", c.IP(), status, length, c.Method(), reqURI, dur, ua)
		l.l.Println(res)

		metrics.ObserveRequest(c.Method(), c.Route().Path, status, dur)
		return err
	}
}
