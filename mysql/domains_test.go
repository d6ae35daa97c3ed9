package mysql

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

func TestUpsertDomainReturnsRowID(t *testing.T) {
	store, mock := mockStore(t)

	// LAST_INSERT_ID(id) in the conflict clause makes LastInsertId report
	// the existing row's id on the update path, so both paths look the same
	// to the caller.
	mock.ExpectExec(`INSERT INTO domains .*ON DUPLICATE KEY UPDATE\s+id = LAST_INSERT_ID\(id\)`).
		WithArgs("example.com", "Example", nil, nil, nil, nil, nil, nil, nil,
			nil, nil, nil, nil, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(17, 1))

	id, err := store.UpsertDomain(context.Background(), &crawler.Domain{
		Name:  "example.com",
		Title: crawler.StringPtr("Example"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDomainCoalescesNilFields(t *testing.T) {
	store, mock := mockStore(t)

	// Every updatable column goes through COALESCE(VALUES(col), col): a nil
	// field in the record must not erase what enrichment already stored.
	mock.ExpectExec(`INSERT INTO domains .*title = COALESCE\(VALUES\(title\), title\).*ip_address = COALESCE\(VALUES\(ip_address\), ip_address\)`).
		WithArgs("example.com", nil, nil, nil, nil, nil, nil, nil, nil,
			nil, nil, nil, nil, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(17, 2))

	id, err := store.UpsertDomain(context.Background(), &crawler.Domain{Name: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDomainIDNotFound(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectQuery(`SELECT id FROM domains WHERE domain_name = \?`).
		WithArgs("nowhere.example").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.DomainID(context.Background(), "nowhere.example")
	assert.ErrorIs(t, err, crawler.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRelationshipRefreshesDuplicates(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec(`INSERT INTO relationships .*link_text = VALUES\(link_text\),\s+link_url = VALUES\(link_url\)`).
		WithArgs(1, 2, "link", "Partner site", "http://other.example/about").
		WillReturnResult(sqlmock.NewResult(5, 1))
	// MySQL reports two affected rows when the conflict clause updates.
	mock.ExpectExec(`INSERT INTO relationships`).
		WithArgs(1, 2, "link", "Partners", "http://other.example/").
		WillReturnResult(sqlmock.NewResult(0, 2))

	created, err := store.UpsertRelationship(context.Background(), 1, 2,
		crawler.RelLink, "Partner site", "http://other.example/about")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.UpsertRelationship(context.Background(), 1, 2,
		crawler.RelLink, "Partners", "http://other.example/")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRelationshipNullsEmptyLinkFields(t *testing.T) {
	store, mock := mockStore(t)

	// Edges recorded without anchor data store NULL, not "".
	mock.ExpectExec(`INSERT INTO relationships`).
		WithArgs(1, 3, "redirect", nil, nil).
		WillReturnResult(sqlmock.NewResult(6, 1))

	created, err := store.UpsertRelationship(context.Background(), 1, 3,
		crawler.RelRedirect, "", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordURLProcessingOverwritesOnConflict(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec(`INSERT INTO url_processing_history .*ON DUPLICATE KEY UPDATE\s+processed_at = CURRENT_TIMESTAMP`).
		WithArgs("http://example.com/about", 17, "success", 12).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.RecordURLProcessing(context.Background(), "http://example.com/about", 17, "success", 12)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessedCountJoinsOnDomain(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM url_processing_history h\s+JOIN domains d ON d.id = h.domain_id\s+WHERE d.domain_name = \?`).
		WithArgs("example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.ProcessedCount(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDomainDataComplete(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectQuery(`SELECT 1 FROM domains\s+WHERE domain_name = \?\s+AND title IS NOT NULL`).
		WithArgs("full.example").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(`SELECT 1 FROM domains`).
		WithArgs("stub.example").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	complete, err := store.IsDomainDataComplete(context.Background(), "full.example")
	require.NoError(t, err)
	assert.True(t, complete)

	complete, err = store.IsDomainDataComplete(context.Background(), "stub.example")
	require.NoError(t, err)
	assert.False(t, complete)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParentWhoisAbsentParent(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectQuery(`SELECT id, domain_name, created_date, expiry_date, registrar, nameservers\s+FROM domains WHERE domain_name = \?`).
		WithArgs("example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain_name", "created_date",
			"expiry_date", "registrar", "nameservers"}))

	parent, err := store.ParentWhois(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Nil(t, parent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParentWhoisEmptyColumnsCountAsAbsent(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectQuery(`SELECT id, domain_name, created_date`).
		WithArgs("example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain_name", "created_date",
			"expiry_date", "registrar", "nameservers"}).
			AddRow(3, "example.com", nil, nil, nil, nil))

	parent, err := store.ParentWhois(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Nil(t, parent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParentWhoisReturnsColumns(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectQuery(`SELECT id, domain_name, created_date`).
		WithArgs("example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain_name", "created_date",
			"expiry_date", "registrar", "nameservers"}).
			AddRow(3, "example.com", nil, nil, "Example Registrar Inc", "ns1.example.com, ns2.example.com"))

	parent, err := store.ParentWhois(context.Background(), "example.com")
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, "Example Registrar Inc", *parent.Registrar)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogCollection(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec(`INSERT INTO collection_logs`).
		WithArgs(nil, "http://example.com", "success", nil, 1.5, 10, 8, "host-1234").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.LogCollection(context.Background(), crawler.CollectionLog{
		URL:                "http://example.com",
		Status:             "success",
		ProcessingTime:     1.5,
		RelationshipsFound: 10,
		URLsDiscovered:     8,
		AgentName:          "host-1234",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWipeTruncatesAllTablesInsideFKGuard(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec(`SET FOREIGN_KEY_CHECKS = 0`).WillReturnResult(sqlmock.NewResult(0, 0))
	for _, table := range tableNames {
		mock.ExpectExec(`TRUNCATE TABLE ` + table).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`ALTER TABLE ` + table + ` AUTO_INCREMENT = 1`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(`SET FOREIGN_KEY_CHECKS = 1`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Wipe(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
