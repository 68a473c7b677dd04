// Package httpapi wires the engine's two pieces of mandatory middleware —
// tenant context and the idempotency gate — onto gin, the thin HTTP layer
// the engine's hard core sits behind. REST route/DTO design is out of
// scope; this package exists only to make the gate run as real
// middleware in front of the mutating endpoints. Grounded on
// nat-prohmpiriya's gin-based IdempotencyMiddleware (response capture via
// a wrapping ResponseWriter, SkipPaths, required-methods gate).
package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/idempotency"
	"github.com/jsoonworld/fluxpay-engine/internal/logger"
	"github.com/jsoonworld/fluxpay-engine/internal/tenant"
)

const IdempotencyKeyHeader = "X-Idempotency-Key"
const RequestIDHeader = "X-Request-Id"

// RequestLoggerMiddleware assigns (or propagates) a correlation id for the
// request, carries it on the context via internal/logger, echoes it back
// on the response, and logs the outcome at the access-log level.
func RequestLoggerMiddleware(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithCorrelationID(c.Request.Context(), id))

		c.Next()

		logger.WithFields(c.Request.Context(), base).Info("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
		)
	}
}

var uuidKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// TenantMiddleware requires X-Tenant-Id on every request and carries it
// on the request context for the rest of the pipeline.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(tenant.HeaderName)
		if err := tenant.Validate(id); err != nil {
			writeDomainError(c, domainerr.NewTenantMissingError())
			return
		}
		c.Request = c.Request.WithContext(tenant.WithID(c.Request.Context(), id))
		c.Next()
	}
}

// IdempotencyMiddleware runs the acquire-lock protocol before the handler
// and persists its response afterward, releasing the lock if the handler
// errors. Only applies to the required mutating methods; GET/HEAD pass
// through untouched.
func IdempotencyMiddleware(gate *idempotency.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresIdempotency(c.Request.Method) {
			c.Next()
			return
		}

		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			writeDomainError(c, &domainerr.Error{
				Code: domainerr.CodeIdempotencyKeyMissing, Message: "X-Idempotency-Key header is required",
				HTTPStatus: http.StatusBadRequest,
			})
			return
		}
		if !uuidKeyPattern.MatchString(key) {
			writeDomainError(c, &domainerr.Error{
				Code: domainerr.CodeIdempotencyKeyInvalid, Message: "X-Idempotency-Key must be a UUID",
				HTTPStatus: http.StatusBadRequest,
			})
			return
		}

		tenantID, err := tenant.RequireFromContext(c.Request.Context())
		if err != nil {
			writeDomainError(c, err.(*domainerr.Error))
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}
		methodPath := c.Request.Method + ":" + c.FullPath()

		outcome, rec, err := gate.Acquire(c.Request.Context(), tenantID, methodPath, key, body)
		if err != nil {
			writeDomainError(c, domainerr.NewInternalError(err))
			return
		}

		switch outcome {
		case idempotency.OutcomeHit:
			c.Data(rec.ResponseStatus, "application/json", rec.ResponseBody)
			c.Abort()
			return
		case idempotency.OutcomeConflict:
			writeDomainError(c, &domainerr.Error{
				Code: domainerr.CodeIdempotencyConflict, Message: "idempotency key already used with a different request body",
				HTTPStatus: http.StatusUnprocessableEntity,
			})
			return
		case idempotency.OutcomeProcessing:
			writeDomainError(c, &domainerr.Error{
				Code: domainerr.CodeIdempotencyProcessing, Message: "a request with this idempotency key is already being processed",
				HTTPStatus: http.StatusConflict,
			})
			return
		}

		rw := &captureWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil)}
		c.Writer = rw
		c.Next()

		if len(c.Errors) > 0 || rw.status >= http.StatusInternalServerError {
			_ = gate.Release(c.Request.Context(), tenantID, methodPath, key)
			return
		}
		_ = gate.Complete(c.Request.Context(), tenantID, methodPath, key, rw.status, rw.body.Bytes())
	}
}

func requiresIdempotency(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type captureWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// writeDomainError renders a domain error through the engine's single
// response envelope: {isSuccess, code, message, result}, the same shape
// writeSuccess/writeError use for every other response.
func writeDomainError(c *gin.Context, derr *domainerr.Error) {
	c.AbortWithStatusJSON(derr.HTTPStatus, gin.H{
		"isSuccess": false,
		"code":      derr.Code,
		"message":   derr.Message,
		"result":    nil,
	})
}
