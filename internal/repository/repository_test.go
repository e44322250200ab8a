package repository

import (
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*database.Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &database.Postgres{DB: db}, mock
}

// exactSQL matches query as a whole statement, ignoring only whitespace layout
func exactSQL(query string) string {
	parts := strings.Fields(query)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return `^\s*` + strings.Join(parts, `\s+`) + `\s*$`
}
