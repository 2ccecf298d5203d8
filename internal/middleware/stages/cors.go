package stages

import (
	"net/http"

	"github.com/mir00r/gateway/internal/middleware"
)

// CORS is the second pipeline stage: it sets Access-Control-Allow-*
// headers on every response, including rejections from later stages, and
// short-circuits preflight (OPTIONS) requests with 204, per spec.md §4.4.
type CORS struct {
	AllowOrigin  string
	AllowMethods string
	AllowHeaders string
	MaxAge       string
}

// NewCORS constructs the CORS stage with the gateway's fixed policy.
func NewCORS() *CORS {
	return &CORS{
		AllowOrigin:  "*",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		AllowHeaders: "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization",
		MaxAge:       "86400",
	}
}

func (c *CORS) Name() string { return "cors" }

func (c *CORS) Handle(ctx *middleware.Context, next middleware.Next) {
	h := ctx.Writer.Header()
	h.Set("Access-Control-Allow-Origin", c.AllowOrigin)
	h.Set("Access-Control-Allow-Methods", c.AllowMethods)
	h.Set("Access-Control-Allow-Headers", c.AllowHeaders)
	h.Set("Access-Control-Max-Age", c.MaxAge)

	if ctx.Request.Method == http.MethodOptions {
		ctx.MarkResponded()
		ctx.Writer.WriteHeader(http.StatusNoContent)
		return
	}

	next()
}
