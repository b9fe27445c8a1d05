package server

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
)

func newChecker(t *testing.T) (*Checker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Checker{db: db, log: logger.Global()}, mock
}

func TestCheckAccess(t *testing.T) {
	c, mock := newChecker(t)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))

	assert.NoError(t, c.CheckAccess(context.Background(), "shop"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAccess_MissingDatabase(t *testing.T) {
	c, mock := newChecker(t)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))

	err := c.CheckAccess(context.Background(), "ghost")
	assert.ErrorIs(t, err, errs.ErrDatabaseAccess)
}

func TestCheckBinaryLogging(t *testing.T) {
	c, mock := newChecker(t)
	mock.ExpectQuery("SELECT @@log_bin").
		WillReturnRows(sqlmock.NewRows([]string{"@@log_bin"}).AddRow(1))

	assert.NoError(t, c.CheckBinaryLogging(context.Background()))
}

func TestCheckBinaryLogging_Disabled(t *testing.T) {
	c, mock := newChecker(t)
	mock.ExpectQuery("SELECT @@log_bin").
		WillReturnRows(sqlmock.NewRows([]string{"@@log_bin"}).AddRow(0))

	err := c.CheckBinaryLogging(context.Background())
	assert.ErrorIs(t, err, errs.ErrBinlogDisabled)
}

func TestBinaryLogs(t *testing.T) {
	c, mock := newChecker(t)
	mock.ExpectQuery("SHOW BINARY LOGS").
		WillReturnRows(sqlmock.NewRows([]string{"Log_name", "File_size"}).
			AddRow("mariadb-bin.000041", 1048576).
			AddRow("mariadb-bin.000042", 2048))

	logs, err := c.BinaryLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "mariadb-bin.000041", logs[0].Name)
	assert.EqualValues(t, 1048576, logs[0].Size)
}

func TestBinaryLogs_ThreeColumnServer(t *testing.T) {
	c, mock := newChecker(t)
	mock.ExpectQuery("SHOW BINARY LOGS").
		WillReturnRows(sqlmock.NewRows([]string{"Log_name", "File_size", "Encrypted"}).
			AddRow("binlog.000007", 4096, "No"))

	logs, err := c.BinaryLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "binlog.000007", logs[0].Name)
}

func TestBinaryLogs_Empty(t *testing.T) {
	c, mock := newChecker(t)
	mock.ExpectQuery("SHOW BINARY LOGS").
		WillReturnRows(sqlmock.NewRows([]string{"Log_name", "File_size"}))

	_, err := c.BinaryLogs(context.Background())
	assert.ErrorIs(t, err, errs.ErrNoBinlogs)
}

func TestFlushBinaryLogs(t *testing.T) {
	c, mock := newChecker(t)
	mock.ExpectExec("FLUSH BINARY LOGS").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, c.FlushBinaryLogs(context.Background()))
}
