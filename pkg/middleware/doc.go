// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// # Authentication
//
// AuthMiddleware reads "Authorization: Bearer <token>", hashes the token and
// resolves it through an auth.Directory. The principal is stored in the
// request context and added to the request logger as principal_id.
//
//	authMW := middleware.NewAuthMiddleware(directory, false)
//	router.Use(authMW.Handler)
//
// # Rate Limiting
//
// Payment endpoints are limited per principal, or per client IP when the
// caller is the gateway. Two Limiter implementations exist:
//
//	limiter := middleware.NewRateLimiter(middleware.PaymentRateLimitConfig())                 // single node
//	limiter := middleware.NewDistributedRateLimiter(redisClient, nil, "lectern:ratelimit")   // shared
//	router.Use(middleware.NewRateLimitMiddleware(limiter, "payments", logger).Handler)
//
// Limiter errors let requests through.
package middleware
