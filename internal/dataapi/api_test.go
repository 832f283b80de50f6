package dataapi_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rafaeljc/engage/internal/cache"
	"github.com/rafaeljc/engage/internal/config"
	"github.com/rafaeljc/engage/internal/dataapi"
	"github.com/rafaeljc/engage/internal/session"
	"github.com/rafaeljc/engage/internal/testsupport"
)

const bufSize = 1024 * 1024

const shopManifest = `{
	"interactions": [
		{"id": "welcome", "type": "TextModal", "configuration": {"title": "Welcome!"}},
		{"id": "nps", "type": "Survey"}
	],
	"targets": {
		"local#app#launch": [
			{"interaction_id": "welcome", "criteria": {"interactions/welcome/invokes/total": 0}}
		],
		"local#app#purchase": [
			{"interaction_id": "nps", "criteria": {"person/tier": "gold"}}
		]
	}
}`

// manifestStore is what the session layer reads from and writes to.
type manifestStore interface {
	session.ManifestSource
	session.Store
}

// startServer serves the data plane over bufconn on top of store and
// returns a connected client.
func startServer(t *testing.T, store manifestStore, interceptors ...grpc.UnaryServerInterceptor) *dataapi.Client {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	l1, err := cache.NewMemoryCache(100, time.Minute)
	require.NoError(t, err)

	provider := session.NewManifestProvider(l1, store, log)
	sessions := session.NewService(provider, store,
		&config.SessionConfig{TTL: time.Hour, LockStripes: 16, OperationTimeout: 2 * time.Second},
		session.WithLogger(log),
	)

	lis := bufconn.Listen(bufSize)
	interceptors = append([]grpc.UnaryServerInterceptor{dataapi.RequestLoggerInterceptor(log)}, interceptors...)
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	dataapi.NewAPI(sessions).Register(s)

	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough://bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		s.Stop()
		l1.Close()
	})
	return dataapi.NewClient(conn)
}

func seedManifest(t *testing.T, l2 cache.Service, appKey, body string, version int64) {
	t.Helper()
	_, err := l2.SetManifestSafely(context.Background(), appKey, []byte(body), version)
	require.NoError(t, err)
}

func TestDataPlane(t *testing.T) {
	t.Parallel()

	store := testsupport.NewFakeCache()
	seedManifest(t, store, "shop", shopManifest, 1)
	client := startServer(t, store)
	ctx := context.Background()

	newSession := func(t *testing.T) string {
		t.Helper()
		resp, err := client.CallMap(ctx, dataapi.MethodCreateSession, map[string]any{
			"app_key":     "shop",
			"environment": map[string]any{"application": map[string]any{"version": "1.2.0"}},
		})
		require.NoError(t, err)
		id, _ := resp["session_id"].(string)
		require.NotEmpty(t, id)
		return id
	}

	t.Run("Should show welcome once per session", func(t *testing.T) {
		t.Parallel()

		// Arrange
		id := newSession(t)
		req := map[string]any{"app_key": "shop", "session_id": id, "event": "local#app#launch"}

		// Act
		first, err := client.CallMap(ctx, dataapi.MethodEngageEvent, req)
		require.NoError(t, err)
		second, err := client.CallMap(ctx, dataapi.MethodEngageEvent, req)
		require.NoError(t, err)

		// Assert
		interaction, ok := first["interaction"].(map[string]any)
		require.True(t, ok, "first launch should select an interaction")
		assert.Equal(t, "welcome", interaction["id"])
		assert.Equal(t, map[string]any{"title": "Welcome!"}, interaction["configuration"])
		assert.Nil(t, second["interaction"])
	})

	t.Run("Should preview without counting", func(t *testing.T) {
		t.Parallel()

		id := newSession(t)
		req := map[string]any{"app_key": "shop", "session_id": id, "event": "local#app#launch"}

		for range 3 {
			resp, err := client.CallMap(ctx, dataapi.MethodCanShowInteraction, req)
			require.NoError(t, err)
			assert.NotNil(t, resp["interaction"])
		}

		st, err := client.CallMap(ctx, dataapi.MethodGetState, map[string]any{"app_key": "shop", "session_id": id})
		require.NoError(t, err)
		assert.Empty(t, st["state"].(map[string]any)["code_point"])
	})

	t.Run("Should target on person context", func(t *testing.T) {
		t.Parallel()

		id := newSession(t)
		ref := map[string]any{"app_key": "shop", "session_id": id}

		_, err := client.CallMap(ctx, dataapi.MethodUpdateContext, map[string]any{
			"app_key": "shop", "session_id": id, "person": map[string]any{"tier": "gold"},
		})
		require.NoError(t, err)

		resp, err := client.CallMap(ctx, dataapi.MethodEngageEvent, map[string]any{
			"app_key": "shop", "session_id": id, "event": "local#app#purchase",
		})
		require.NoError(t, err)
		require.NotNil(t, resp["interaction"])
		assert.Equal(t, "nps", resp["interaction"].(map[string]any)["id"])

		st, err := client.CallMap(ctx, dataapi.MethodGetState, ref)
		require.NoError(t, err)
		env := st["environment"].(map[string]any)
		assert.Equal(t, map[string]any{"version": "1.2.0"}, env["application"])
	})

	t.Run("Should record survey answers and reset them", func(t *testing.T) {
		t.Parallel()

		id := newSession(t)
		ref := map[string]any{"app_key": "shop", "session_id": id}

		_, err := client.CallMap(ctx, dataapi.MethodEngageEvent, map[string]any{
			"app_key":        "shop",
			"session_id":     id,
			"event":          "com.apptentive#Survey#submit",
			"interaction_id": "nps",
			"answers":        map[string]any{"q1": []any{map[string]any{"id": "c1"}}},
		})
		require.NoError(t, err)

		st, err := client.CallMap(ctx, dataapi.MethodGetState, ref)
		require.NoError(t, err)
		counts := st["state"].(map[string]any)["interaction_counts"].(map[string]any)
		assert.Contains(t, counts, "q1")
		assert.Contains(t, counts["nps"], "last_submission_at")

		_, err = client.CallMap(ctx, dataapi.MethodResetState, ref)
		require.NoError(t, err)

		st, err = client.CallMap(ctx, dataapi.MethodGetState, ref)
		require.NoError(t, err)
		assert.Empty(t, st["state"].(map[string]any)["interaction_counts"])
		assert.NotEmpty(t, st["environment"], "reset keeps the environment")
	})

	t.Run("Should look interactions up by id and type", func(t *testing.T) {
		t.Parallel()

		byType, err := client.CallMap(ctx, dataapi.MethodGetInteraction, map[string]any{"app_key": "shop", "type": "Survey"})
		require.NoError(t, err)
		assert.Equal(t, "nps", byType["interaction"].(map[string]any)["id"])

		missing, err := client.CallMap(ctx, dataapi.MethodGetInteraction, map[string]any{"app_key": "shop", "id": "ghost"})
		require.NoError(t, err)
		assert.Nil(t, missing["interaction"])
	})

	t.Run("Should delete sessions", func(t *testing.T) {
		t.Parallel()

		id := newSession(t)
		ref := map[string]any{"app_key": "shop", "session_id": id}

		_, err := client.CallMap(ctx, dataapi.MethodDeleteSession, ref)
		require.NoError(t, err)

		_, err = store.LoadSession(ctx, "shop", id)
		assert.ErrorIs(t, err, cache.ErrSessionNotFound)
	})

	t.Run("Should echo the request id", func(t *testing.T) {
		t.Parallel()

		var header metadata.MD
		callCtx := metadata.AppendToOutgoingContext(ctx, dataapi.RequestIDHeader, "req-42")

		_, err := client.CallMap(callCtx, dataapi.MethodGetInteraction, map[string]any{"app_key": "shop", "id": "nps"}, grpc.Header(&header))

		require.NoError(t, err)
		assert.Equal(t, []string{"req-42"}, header.Get(dataapi.RequestIDHeader))
	})

	errorCases := []struct {
		name   string
		method string
		req    map[string]any
		code   codes.Code
	}{
		{"missing app key", dataapi.MethodCreateSession, map[string]any{}, codes.InvalidArgument},
		{"unknown app", dataapi.MethodCreateSession, map[string]any{"app_key": "nope"}, codes.NotFound},
		{"missing event", dataapi.MethodEngageEvent, map[string]any{"app_key": "shop", "session_id": "s1"}, codes.InvalidArgument},
		{"bad session id", dataapi.MethodGetState, map[string]any{"app_key": "shop", "session_id": "a b"}, codes.InvalidArgument},
		{"lookup without id or type", dataapi.MethodGetInteraction, map[string]any{"app_key": "shop"}, codes.InvalidArgument},
		{"wrongly typed field", dataapi.MethodEngageEvent, map[string]any{"app_key": "shop", "session_id": "s1", "event": 3.0}, codes.InvalidArgument},
	}

	for _, tc := range errorCases {
		t.Run("Should map "+tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.CallMap(ctx, tc.method, tc.req)

			assert.Equal(t, tc.code, status.Code(err), err)
		})
	}
}

func TestDataPlane_BrokenManifest(t *testing.T) {
	t.Parallel()

	store := testsupport.NewFakeCache()
	seedManifest(t, store, "broken", `{"interactions": [{"type": "Survey"}]}`, 3)
	client := startServer(t, store)

	_, err := client.CallMap(context.Background(), dataapi.MethodCreateSession, map[string]any{"app_key": "broken"})

	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestDataPlane_Unimplemented(t *testing.T) {
	t.Parallel()

	client := startServer(t, testsupport.NewFakeCache())

	_, err := client.CallMap(context.Background(), "/"+dataapi.ServiceName+"/Explode", map[string]any{})

	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}
