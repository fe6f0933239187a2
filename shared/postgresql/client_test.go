package postgresql

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "plain values",
			cfg:  Config{Host: "localhost", Port: 5432, User: "applyflow", Password: "secret", Database: "applyflow", SSLMode: "require"},
			want: "host=localhost port=5432 user=applyflow password=secret dbname=applyflow sslmode=require",
		},
		{
			name: "default sslmode and empty password",
			cfg:  Config{Host: "db", Port: 5433, User: "u", Database: "d"},
			want: "host=db port=5433 user=u dbname=d sslmode=disable",
		},
		{
			name: "password with spaces and quotes",
			cfg:  Config{Host: "db", Port: 5432, User: "u", Password: `it's a \secret`, Database: "d", SSLMode: "disable"},
			want: `host=db port=5432 user=u password='it\'s a \\secret' dbname=d sslmode=disable`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestClient_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	c := &Client{db: sqlx.NewDb(db, "postgres"), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, c.HealthCheck(context.Background()))

	mock.ExpectQuery("SELECT 1").WillReturnError(assert.AnError)
	err = c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database health check failed")

	mock.ExpectClose()
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
