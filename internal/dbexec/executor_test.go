package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardExecutorNilDB(t *testing.T) {
	exec := NewStandardExecutor(nil, "")
	_, err := exec.QueryRows(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestStandardExecutorQueryRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	born := time.Date(2001, 2, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, name, born FROM students WHERE faculty_id = \\?").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "born"}).
			AddRow(int64(1), []byte("Ann"), born).
			AddRow(int32(2), "Bob", nil))

	exec := NewStandardExecutor(db, "sqlmock")
	rows, err := exec.QueryRows(context.Background(), "SELECT id, name, born FROM students WHERE faculty_id = ?", int64(3))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{"id": int64(1), "name": "Ann", "born": born}, rows[0])
	assert.Equal(t, Row{"id": int64(2), "name": "Bob", "born": nil}, rows[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStandardExecutorClosesRowsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(int64(1)).
			AddRow(int64(2)).
			RowError(1, errors.New("broken pipe")).
			CloseError(nil))

	exec := NewStandardExecutor(db, "sqlmock")
	_, err = exec.QueryRows(context.Background(), "SELECT id FROM t")
	assert.EqualError(t, err, "broken pipe")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, decimal.RequireFromString("12.30"), Normalize("DECIMAL", []byte("12.30")))
	assert.Equal(t, decimal.RequireFromString("7.5"), Normalize("NUMERIC", "7.5"))
	assert.Equal(t, "abc", Normalize("NVARCHAR", []byte("abc")))
	assert.Equal(t, int64(5), Normalize("", int16(5)))
	assert.Equal(t, float64(1.5), Normalize("", float32(1.5)))
	assert.Nil(t, Normalize("INT", nil))

	guid := []byte{0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x78, 0x56, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0}
	assert.Equal(t, "12345678-1234-5678-1234-56789ABCDEF0", Normalize("UNIQUEIDENTIFIER", guid))
}
