package middleware

import (
	"net/http"
	"strconv"

	"github.com/mnehpets/swipelist/endpoint"
)

// APIHeaders sets response headers for the JSON API and the auth routes.
//
// Auth responses carry Set-Cookie headers with sealed tokens, so every
// response is marked no-store. HSTS is only sent when HSTSMaxAge > 0, which
// should be the case only when the API is served over HTTPS.
type APIHeaders struct {
	HSTSMaxAge     int
	ReferrerPolicy string
	FrameOptions   string
	CSP            string
	NoStore        bool
}

// NewAPIHeaders returns the default header policy. hsts enables a one year
// Strict-Transport-Security header.
func NewAPIHeaders(hsts bool) *APIHeaders {
	h := &APIHeaders{
		ReferrerPolicy: "no-referrer",
		FrameOptions:   "DENY",
		CSP:            "default-src 'none'; frame-ancestors 'none'",
		NoStore:        true,
	}
	if hsts {
		h.HSTSMaxAge = 31536000
	}
	return h
}

// Process implements endpoint.Processor.
func (p *APIHeaders) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	if p.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(p.HSTSMaxAge)+"; includeSubDomains")
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.CSP != "" {
		h.Set("Content-Security-Policy", p.CSP)
	}
	if p.NoStore {
		h.Set("Cache-Control", "no-store")
		h.Set("Pragma", "no-cache")
	}
	return next(w, r)
}

var _ endpoint.Processor = (*APIHeaders)(nil)
