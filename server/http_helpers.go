package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestScopeKey = "areuok.request"
	requestIDHeader = "X-Request-ID"
)

const tracerName = "github.com/haasonsaas/areuok/server"

// pathSubjects maps route params to the log field and span attribute that
// name the device or relation a request is about.
var pathSubjects = []struct {
	param, field, attr string
}{
	{"id", "device_id", "device.id"},
	{"relation_id", "relation_id", "relation.id"},
}

// requestScope is what withRequestContext leaves on the gin context for
// handlers.
type requestScope struct {
	id     string
	logger zerolog.Logger
}

// withRequestContext gives every request an ID, a server span and a logger
// carrying the route and any device or relation ID from the path.
func withRequestContext(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		scope := requestScope{id: c.GetHeader(requestIDHeader)}
		if scope.id == "" {
			scope.id = xid.New().String()
		}
		c.Writer.Header().Set(requestIDHeader, scope.id)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := base.With().Str("request_id", scope.id).Str("method", c.Request.Method).Str("route", route)
		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.String("http.target", c.Request.URL.RequestURI()),
			attribute.String("request.id", scope.id),
		}
		for _, subject := range pathSubjects {
			if v := c.Param(subject.param); v != "" {
				fields = fields.Str(subject.field, v)
				attrs = append(attrs, attribute.String(subject.attr, v))
			}
		}
		scope.logger = fields.Logger()
		c.Set(requestScopeKey, scope)

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := otel.Tracer(tracerName).Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attrs...))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		scope.logger.Debug().Int("status", status).Dur("elapsed", time.Since(started)).Msg("request handled")
	}
}

func scopeOf(c *gin.Context) (requestScope, bool) {
	value, ok := c.Get(requestScopeKey)
	if !ok {
		return requestScope{}, false
	}
	scope, ok := value.(requestScope)
	return scope, ok
}

func requestLogger(c *gin.Context, fallback zerolog.Logger) zerolog.Logger {
	if scope, ok := scopeOf(c); ok {
		return scope.logger
	}
	return fallback
}

func requestID(c *gin.Context) string {
	scope, _ := scopeOf(c)
	return scope.id
}

func httpStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindRaceLost:
		return http.StatusConflict
	case apperr.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// respondError writes the machine code for err. Internal causes are logged
// and never returned to the caller.
func respondError(c *gin.Context, err error, fallback zerolog.Logger) {
	kind := apperr.KindOf(err)
	status := httpStatus(kind)
	code := apperr.Code(err)

	logger := requestLogger(c, fallback)
	entry := logger.Warn()
	if status >= http.StatusInternalServerError {
		entry = logger.Error()
		if cause := errors.Unwrap(err); cause != nil {
			entry = entry.AnErr("cause", cause)
		}
	}
	entry.Int("status", status).Str("error_code", code).Msg("request failed")

	if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
		span.AddEvent("http.error", trace.WithAttributes(
			attribute.Int("http.status_code", status),
			attribute.String("error.code", code),
		))
		if status >= http.StatusInternalServerError {
			span.RecordError(err)
		}
	}

	body := gin.H{
		"error":      code,
		"request_id": requestID(c),
	}
	var cooldown *apperr.CooldownError
	if errors.As(err, &cooldown) {
		body["days_left"] = cooldown.DaysLeft
	}
	c.AbortWithStatusJSON(status, body)
}

// bindJSON decodes the request body, reporting malformed input as
// invalid_input.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return apperr.InvalidInput("body")
	}
	return nil
}
