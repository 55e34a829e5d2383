package middleware

// Keys stored on the gin context by the middleware.
const (
	// RequestIDKey holds the request id (string).
	RequestIDKey = "request_id"
	// TokenKey holds the caller's bearer token (string).
	TokenKey = "bearer_token"
)
