// Package api exposes lectern over HTTP.
//
// Routes live under /api/v1. Everything except the payment notification
// endpoints requires a bearer token; payment endpoints are rate limited and
// authenticated by gateway signature instead.
//
// Handlers are grouped by domain (InstituteHandlers, MemberHandlers,
// LicenseHandlers, PaymentHandlers, MaterialHandlers). Each group has a
// RegisterRoutes method and translates service errors with
// httputil.WriteServiceError.
package api
