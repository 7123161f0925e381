package mysql

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/VividCortex/mysqlerr"
	driver "github.com/go-sql-driver/mysql"
	"github.com/scimrelay/scimrelay/server/scimrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDest() *scimrelay.Destination {
	return &scimrelay.Destination{
		TenantID:          1,
		ClientAppID:       "app-1",
		Name:              "okta-sandbox",
		BaseURL:           "https://scim.example.com/v2",
		AttributeMapping:  scimrelay.AttributeMapping{},
		EnabledOperations: scimrelay.OperationList{scimrelay.OpCreateUser},
		DeleteAction:      scimrelay.DeleteActionDeactivate,
		RetryPolicy:       scimrelay.DefaultRetryPolicy(),
		Enabled:           true,
	}
}

func TestNewDestination(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectExec("INSERT INTO destinations").
		WillReturnResult(sqlmock.NewResult(5, 1))

	created, err := ds.NewDestination(context.Background(), testDest())
	require.NoError(t, err)
	assert.Equal(t, uint(5), created.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDestinationDuplicateName(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectExec("INSERT INTO destinations").
		WillReturnError(&driver.MySQLError{Number: mysqlerr.ER_DUP_ENTRY})

	_, err := ds.NewDestination(context.Background(), testDest())
	require.Error(t, err)
	assert.True(t, scimrelay.IsAlreadyExists(err))
	assert.Contains(t, err.Error(), "okta-sandbox")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDestinationNotFound(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectQuery("FROM destinations").
		WithArgs(99).
		WillReturnError(sql.ErrNoRows)

	_, err := ds.Destination(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, scimrelay.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDestinationNotFound(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectExec("UPDATE destinations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	dest := testDest()
	dest.ID = 99
	err := ds.SaveDestination(context.Background(), dest)
	require.Error(t, err)
	assert.True(t, scimrelay.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDestination(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM destinations").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM resource_mappings").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	require.NoError(t, ds.DeleteDestination(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDestinationNotFound(t *testing.T) {
	ds, mock := mockDatastore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM destinations").
		WithArgs(99).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := ds.DeleteDestination(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, scimrelay.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}
