package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/davidmoltin/leadflow/pkg/logger"
)

func TestIsHealthyResult(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"no rows", fmt.Errorf("get lead: %w", sql.ErrNoRows), true},
		{"cancelled", context.Canceled, true},
		{"dedup conflict", &pq.Error{Code: "23505"}, true},
		{"bad input", &pq.Error{Code: "22P02"}, true},
		{"connection failure", &pq.Error{Code: "08006"}, false},
		{"too many connections", &pq.Error{Code: "53300"}, false},
		{"admin shutdown", &pq.Error{Code: "57P01"}, false},
		{"network", errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isHealthyResult(tt.err))
		})
	}
}

func TestPingWithRetry(t *testing.T) {
	calls := 0
	ping := func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("the database system is starting up")
		}
		return nil
	}

	attempts, err := pingWithRetry("postgres", ping, logger.NewForTesting())
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
