package slogcustom

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/fatih/color"
)

// CustomHandler — цветной обработчик slog для терминала.
type CustomHandler struct {
	l     *log.Logger
	level slog.Level
	attrs []slog.Attr
	group string
}

// NewCustomHandler создаёт обработчик, пишущий в out записи
// с уровнем не ниже level.
func NewCustomHandler(out io.Writer, level slog.Level) *CustomHandler {
	return &CustomHandler{
		l:     log.New(out, "", 0),
		level: level,
	}
}

func (c *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.HiBlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	}

	attrsStr := ""

	appendAttr := func(a slog.Attr) {
		key := a.Key
		if c.group != "" {
			key = c.group + "." + key
		}

		attrsStr += color.GreenString(key) + "=" + fmt.Sprint(a.Value.Any()) + " "
	}

	for _, a := range c.attrs {
		appendAttr(a)
	}

	r.Attrs(func(a slog.Attr) bool {
		appendAttr(a)
		return true
	})

	c.l.Println(
		r.Time.Format("15:04:05.000"),
		level,
		r.Message,
		attrsStr,
	)

	return nil
}

func (c *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *c
	next.attrs = append(append([]slog.Attr{}, c.attrs...), attrs...)

	return &next
}

func (c *CustomHandler) WithGroup(name string) slog.Handler {
	next := *c

	if next.group == "" {
		next.group = name
	} else {
		next.group += "." + name
	}

	return &next
}

func (c *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= c.level
}
