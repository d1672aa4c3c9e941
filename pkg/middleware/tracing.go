package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request. Download secrets travel in the
// path, so the span records the route pattern as url.path.
func Tracing(service string, opts ...otelgin.Option) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		otelgin.Middleware(service, opts...),
		scrubSpanPath,
	}
}

// scrubSpanPath must run inside the otelgin handler, while its span is open.
func scrubSpanPath(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	if span.IsRecording() {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		span.SetAttributes(attribute.String("url.path", route))
	}
	c.Next()
}
