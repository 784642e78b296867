//go:build integration

package mongostore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/store"
	"forge.dev/forge/internal/store/mongostore"
)

func startMongo(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "27017")
	require.NoError(t, err)
	return "mongodb://" + host + ":" + port.Port()
}

func TestStoreRoundTrip(t *testing.T) {
	uri := startMongo(t)
	ctx := context.Background()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	s := mongostore.New(client.Database("forge_test"))

	t.Run("backlog round trip", func(t *testing.T) {
		b := store.Backlog{Tasks: []domain.Task{{ID: "t1", Title: "first task"}}}
		require.NoError(t, s.SaveBacklog(ctx, b))

		got, err := s.LoadBacklog(ctx)
		require.NoError(t, err)
		require.Len(t, got.Tasks, 1)
		require.Equal(t, "t1", got.Tasks[0].ID)
	})

	t.Run("missing sprint returns zero value", func(t *testing.T) {
		sp, err := s.LoadSprint(ctx, "does-not-exist")
		require.NoError(t, err)
		require.Equal(t, domain.Sprint{}, sp)
	})

	t.Run("sprint round trip", func(t *testing.T) {
		sp := domain.Sprint{ID: "sprint-1", Status: domain.SprintActive}
		require.NoError(t, s.SaveSprint(ctx, sp))

		got, err := s.LoadSprint(ctx, "sprint-1")
		require.NoError(t, err)
		require.Equal(t, sp.ID, got.ID)
		require.Equal(t, sp.Status, got.Status)
	})

	t.Run("checkpoint round trip preserves completed set", func(t *testing.T) {
		cp := domain.NewCheckpointState("sprint-1", time.Now().UTC().Truncate(time.Millisecond))
		cp.RecordResult(domain.TaskExecutionResult{TaskID: "t1", Success: true, Converged: true, FinalScore: 90})
		cp.CurrentTaskIndex = 1
		require.NoError(t, s.SaveCheckpoint(ctx, *cp))

		got, err := s.LoadCheckpoint(ctx, "sprint-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.True(t, got.IsCompleted("t1"))
		require.Equal(t, 1, got.CurrentTaskIndex)
		require.Equal(t, domain.CurrentSchemaVersion, got.SchemaVersion)
	})

	t.Run("missing checkpoint returns nil", func(t *testing.T) {
		got, err := s.LoadCheckpoint(ctx, "no-such-sprint")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("results save", func(t *testing.T) {
		r := store.Results{SprintID: "sprint-1", Results: []domain.TaskExecutionResult{{TaskID: "t1", Success: true}}}
		require.NoError(t, s.SaveResults(ctx, r))
	})
}
