//go:build integration

package dynamo

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/kbsync/internal/models"
)

const (
	testTable    = "documents"
	testJobIndex = "ingestionJobId-index"
)

var testStore *Store

// TestMain starts DynamoDB Local and creates the documents table.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:2.5.2",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start DynamoDB Local container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
	)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	if err := createTable(ctx, client); err != nil {
		log.Fatalf("Failed to create table: %v", err)
	}

	testStore = New(client, Config{Table: testTable, JobIndex: testJobIndex})

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

func createTable(ctx context.Context, client *dynamodb.Client) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(testTable),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrDocumentID), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrJobID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrDocumentID), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName:  aws.String(testJobIndex),
			KeySchema:  []types.KeySchemaElement{{AttributeName: aws.String(attrJobID), KeyType: types.KeyTypeHash}},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	})
	if err != nil {
		return err
	}
	return dynamodb.NewTableExistsWaiter(client).Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(testTable)}, 30*time.Second)
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	uploaded := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	doc := models.NewTrackedDocument("it-lifecycle", "guide.pdf", uploaded)
	require.NoError(t, testStore.CreateDocument(ctx, doc))
	t.Cleanup(func() { _ = testStore.DeleteDocument(ctx, doc.DocumentID) })

	assert.ErrorIs(t, testStore.CreateDocument(ctx, doc), models.ErrDocumentExists)

	candidates, err := testStore.DocumentsNeedingStatusUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, containsDoc(candidates, doc.DocumentID), "new document needs an update")

	syncedAt := uploaded.Add(30 * time.Minute)
	require.NoError(t, testStore.UpdateStatus(ctx, doc.DocumentID, models.KBStatusSynced, syncedAt, "job-it-1"))

	got, err := testStore.GetDocument(ctx, doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.KBStatusSynced, got.KnowledgeBaseStatus)
	assert.Equal(t, "job-it-1", got.IngestionJobID)
	require.NotNil(t, got.LastSyncDate)
	assert.True(t, syncedAt.Equal(*got.LastSyncDate))

	candidates, err = testStore.DocumentsNeedingStatusUpdate(ctx)
	require.NoError(t, err)
	assert.False(t, containsDoc(candidates, doc.DocumentID), "synced document with sync date is not a candidate")

	byJob, err := testStore.DocumentsByJobID(ctx, "job-it-1")
	require.NoError(t, err)
	assert.True(t, containsDoc(byJob, doc.DocumentID))
}

func TestStoreRetryBookkeeping(t *testing.T) {
	ctx := context.Background()
	uploaded := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	doc := models.NewTrackedDocument("it-retry", "broken.pdf", uploaded)
	require.NoError(t, testStore.CreateDocument(ctx, doc))
	t.Cleanup(func() { _ = testStore.DeleteDocument(ctx, doc.DocumentID) })

	retryAt := uploaded.Add(time.Minute)
	require.NoError(t, testStore.IncrementRetry(ctx, doc.DocumentID, 1, retryAt, models.KBStatusPending))

	got, err := testStore.GetDocument(ctx, doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastRetryDate)
	assert.True(t, retryAt.Equal(*got.LastRetryDate))

	require.NoError(t, testStore.ResetRetries(ctx, doc.DocumentID))
	got, err = testStore.GetDocument(ctx, doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.LastRetryDate)
	assert.Equal(t, models.KBStatusPending, got.KnowledgeBaseStatus)
}

func TestStoreMissingDocument(t *testing.T) {
	ctx := context.Background()

	err := testStore.UpdateStatus(ctx, "it-missing", models.KBStatusSynced, time.Now(), "job-x")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	_, err = testStore.GetDocument(ctx, "it-missing")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	// The conditional write must not have created a partial record
	_, err = testStore.GetDocument(ctx, "it-missing")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func containsDoc(docs []models.TrackedDocument, id string) bool {
	for _, d := range docs {
		if d.DocumentID == id {
			return true
		}
	}
	return false
}
