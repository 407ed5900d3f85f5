package common_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vecino-labs/backend-vecino/internal/common"
)

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, common.IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.True(t, common.IsUniqueViolation(fmt.Errorf("insert event: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, common.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, common.IsUniqueViolation(errors.New("23505")))
	require.False(t, common.IsUniqueViolation(nil))
}

func TestSha256Hex(t *testing.T) {
	require.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		common.Sha256Hex(""))
	require.Len(t, common.Sha256Hex(`{"id":"evt_1"}`), 64)
}
