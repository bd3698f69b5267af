// Package httputil holds the small set of HTTP helpers shared by the audit
// API: JSON responses, query parsing and request middleware.
//
// Responses:
//
//	httputil.WriteJSON(w, r, http.StatusOK, entries)
//	httputil.WriteError(w, r, http.StatusBadRequest, err)
//
// Server errors (status 500 and above) are logged through the request's
// observability logger before the body is written.
//
// Middleware is composed with Chain:
//
//	handler := httputil.Chain(
//		httputil.RequestLogger(logger),
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware,
//	)(router)
package httputil
