package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestGetLimiterTiers(t *testing.T) {
	tests := []struct {
		path string
		want rate.Limit
	}{
		{"/api/v1/auth/token", authLimit},
		{"/api/v1/ledgers", ledgerLimit},
		{"/api/v1/ledgers/:ledger_id", ledgerLimit},
		{"/api/v1/ledgers/:ledger_id/report", reportLimit},
		{"/health", rate.Inf},
	}

	for _, tt := range tests {
		limiter := getLimiter(tt.path, "client-"+tt.path)
		assert.Equal(t, tt.want, limiter.Limit(), "path %s", tt.path)
	}
}
