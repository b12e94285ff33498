//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/kbsync/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func resetDB(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.WipeData(context.Background()))
}

func TestCreateAndGetDocument(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	uploadedAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	doc := models.NewTrackedDocument("doc-create", "guide.pdf", uploadedAt)
	doc.ContentType = "application/pdf"
	require.NoError(t, testDB.CreateDocument(ctx, doc))

	got, err := testDB.GetDocument(ctx, "doc-create")
	require.NoError(t, err)
	assert.Equal(t, "guide.pdf", got.FileName)
	assert.Equal(t, models.KBStatusPending, got.KnowledgeBaseStatus)
	assert.Equal(t, "application/pdf", got.ContentType)
	assert.True(t, uploadedAt.Equal(got.UploadDate))
	assert.Nil(t, got.LastSyncDate)

	err = testDB.CreateDocument(ctx, doc)
	assert.ErrorIs(t, err, models.ErrDocumentExists)
}

func TestCandidatesAndStatusUpdate(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	uploadedAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	require.NoError(t, testDB.CreateDocument(ctx, models.NewTrackedDocument("doc-a", "a.pdf", uploadedAt)))
	require.NoError(t, testDB.CreateDocument(ctx, models.NewTrackedDocument("doc-b", "b.pdf", uploadedAt)))

	candidates, err := testDB.DocumentsNeedingStatusUpdate(ctx)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)

	syncedAt := uploadedAt.Add(10 * time.Minute)
	require.NoError(t, testDB.UpdateStatus(ctx, "doc-a", models.KBStatusSynced, syncedAt, "job-1"))

	candidates, err = testDB.DocumentsNeedingStatusUpdate(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "doc-b", candidates[0].DocumentID)

	byJob, err := testDB.DocumentsByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, byJob, 1)
	assert.Equal(t, "doc-a", byJob[0].DocumentID)
	require.NotNil(t, byJob[0].LastSyncDate)
	assert.True(t, syncedAt.Equal(*byJob[0].LastSyncDate))

	synced, err := testDB.ListDocuments(ctx, models.KBStatusSynced)
	require.NoError(t, err)
	assert.Len(t, synced, 1)

	all, err := testDB.ListDocuments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateMissingDocument(t *testing.T) {
	resetDB(t)
	ctx := context.Background()

	err := testDB.UpdateStatus(ctx, "missing", models.KBStatusSynced, time.Now(), "job-1")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	// UPDATE must not have created the record
	_, err = testDB.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	err = testDB.DeleteDocument(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestRetryBookkeeping(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	uploadedAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	require.NoError(t, testDB.CreateDocument(ctx, models.NewTrackedDocument("doc-r", "r.pdf", uploadedAt)))

	retryAt := uploadedAt.Add(time.Minute)
	require.NoError(t, testDB.IncrementRetry(ctx, "doc-r", 1, retryAt, models.KBStatusPending))

	got, err := testDB.GetDocument(ctx, "doc-r")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastRetryDate)
	assert.True(t, retryAt.Equal(*got.LastRetryDate))

	require.NoError(t, testDB.ResetRetries(ctx, "doc-r"))
	got, err = testDB.GetDocument(ctx, "doc-r")
	require.NoError(t, err)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.LastRetryDate)

	require.NoError(t, testDB.DeleteDocument(ctx, "doc-r"))
	_, err = testDB.GetDocument(ctx, "doc-r")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}
