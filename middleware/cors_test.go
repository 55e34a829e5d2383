package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/roundup-invest/receipt-review/config"
	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := &config.ServerConfig{
		AllowedOrigins: []string{"http://localhost:3000", "https://app.roundup.example"},
	}

	testCases := []struct {
		name           string
		requestOrigin  string
		expectedOrigin string
		isOptions      bool
	}{
		{
			name:           "Allowed origin",
			requestOrigin:  "http://localhost:3000",
			expectedOrigin: "http://localhost:3000",
		},
		{
			name:           "Second allowed origin",
			requestOrigin:  "https://app.roundup.example",
			expectedOrigin: "https://app.roundup.example",
		},
		{
			name:           "Disallowed origin",
			requestOrigin:  "http://malicious.com",
			expectedOrigin: "",
		},
		{
			name:           "Allowed origin preflight",
			requestOrigin:  "http://localhost:3000",
			expectedOrigin: "http://localhost:3000",
			isOptions:      true,
		},
		{
			name:           "Disallowed origin preflight",
			requestOrigin:  "http://malicious.com",
			expectedOrigin: "",
			isOptions:      true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORSMiddleware(cfg))
			r.GET("/v1/sessions", func(c *gin.Context) { c.String(http.StatusOK, "OK") })

			method := http.MethodGet
			if tc.isOptions {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/v1/sessions", nil)
			req.Header.Set("Origin", tc.requestOrigin)
			if tc.isOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.expectedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(CORSMiddleware(&config.ServerConfig{AllowedOrigins: []string{"*"}}))
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
