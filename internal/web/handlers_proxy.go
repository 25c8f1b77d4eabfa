package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/JonMunkholm/facturas/internal/logging"
)

// Headers never relayed in either direction.
var hopHeaders = map[string]bool{
	"Host":       true,
	"Connection": true,
}

// proxyStatus maps transport failures to the status returned to the caller.
var proxyStatus = map[string]int{
	core.CodeTimeout:      http.StatusGatewayTimeout,
	core.CodeNetworkError: http.StatusBadGateway,
	core.CodeUnknown:      http.StatusInternalServerError,
}

// handleProxyInvoices relays the request to BACKEND_INVOICES_URL so the
// browser never talks to the invoicing backend directly. Backend answers,
// errors included, are passed through unchanged.
func (s *Server) handleProxyInvoices(w http.ResponseWriter, r *http.Request) {
	target := s.cfg.Backend.InvoicesURL
	if target == "" {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "backend URL not configured",
			Message: "The invoicing backend is not configured.",
			Code:    "CONFIG_ERROR",
		})
		return
	}

	log := logging.FromContext(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Backend.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		log.Error("build proxy request", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   err.Error(),
			Message: "The request could not be forwarded.",
			Code:    core.CodeUnknown,
		})
		return
	}
	req.ContentLength = r.ContentLength
	copyHeaders(req.Header, r.Header)

	resp, err := s.proxy.Do(req)
	if err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			return
		}
		code := core.TransportErrorCode(err)
		log.Warn("proxy request failed", "target", target, "code", code, "error", err)
		writeJSON(w, proxyStatus[code], ErrorResponse{
			Error:   err.Error(),
			Message: proxyMessage(code),
			Code:    code,
		})
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn("proxy response copy failed", "error", err)
	}
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func proxyMessage(code string) string {
	switch code {
	case core.CodeTimeout:
		return "The invoicing backend did not answer in time."
	case core.CodeNetworkError:
		return "The invoicing backend could not be reached."
	default:
		return "The request to the invoicing backend failed."
	}
}
