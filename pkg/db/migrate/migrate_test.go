package migrate

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestPgx5URL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"postgresql", "postgresql://u:p@host:5432/db", "pgx5://u:p@host:5432/db"},
		{"postgres", "postgres://u@host/db?sslmode=disable", "pgx5://u@host/db?sslmode=disable"},
		{"other", "pgx5://host/db", "pgx5://host/db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, pgx5URL(tt.url), tt.want)
		})
	}
}
