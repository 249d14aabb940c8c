package database

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuecangming/folder-copy/internal/common/types"
)

func TestConnString(t *testing.T) {
	config := types.DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "copy"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=copy sslmode=disable", ConnString(config))

	config.SSLMode = "require"
	assert.Contains(t, ConnString(config), "sslmode=require")
}

func TestRunMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"storages", "project_storages", "file_links", "copy_operations", "copy_polling_states", "jobs"} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table + " (")).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, RunMigrations(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_StopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS storages").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS project_storages").WillReturnError(errors.New("permission denied"))

	err = RunMigrations(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_JobLease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"storages", "project_storages", "file_links", "copy_operations", "copy_polling_states"} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table + " (")).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	// existing deployments gain the lease column too
	mock.ExpectExec(`(?s)locked_until\s+TIMESTAMP.*ADD COLUMN IF NOT EXISTS locked_until`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, RunMigrations(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
