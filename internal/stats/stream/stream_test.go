package stream

import (
	"context"
	"io"
	"math"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/loopstats/internal/stats"
	"github.com/banshee-data/loopstats/internal/testutil"
)

type testServer struct {
	srv    *Server
	conn   *grpc.ClientConn
	stop   context.CancelFunc
	served chan error
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{srv: NewServer(), stop: cancel, served: make(chan error, 1)}
	go func() { ts.served <- ts.srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	ts.conn = conn

	t.Cleanup(func() {
		conn.Close()
		cancel()
	})
	return ts
}

func (ts *testServer) watch(t *testing.T, ctx context.Context) *Watcher {
	t.Helper()
	w, err := Watch(ctx, ts.conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ts.srv.Clients() == 1 }, 5*time.Second, time.Millisecond)
	return w
}

func TestWatchSnapshots_StreamsPublished(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	w := ts.watch(t, context.Background())

	want := testutil.ExtendedSnapshot()
	want.AddStatistic(stats.KeyLoopHypothesisRatio, math.NaN())
	pub := stats.NewPublisher(ts.srv)
	pub.Publish(want)

	got, err := w.Next()
	require.NoError(t, err)
	assert.Equal(t, want.RefImageID(), got.RefImageID())
	assert.Equal(t, want.LoopClosureID(), got.LoopClosureID())
	assert.Equal(t, want.RefImage(), got.RefImage())
	if diff := cmp.Diff(want.Posterior(), got.Posterior()); diff != "" {
		t.Errorf("posterior mismatch (-want +got):\n%s", diff)
	}
	v, ok := got.Statistic(stats.KeyLoopHypothesisRatio)
	require.True(t, ok)
	assert.True(t, math.IsNaN(v))

	require.Eventually(t, func() bool {
		sent, _ := ts.srv.Stats()
		return sent == 1
	}, 5*time.Second, time.Millisecond)
}

func TestWatchSnapshots_ClientCancelRemovesClient(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	ts.watch(t, ctx)

	cancel()
	require.Eventually(t, func() bool { return ts.srv.Clients() == 0 }, 5*time.Second, time.Millisecond)
}

func TestServe_StopEndsStreams(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	w := ts.watch(t, context.Background())

	ts.stop()
	select {
	case err := <-ts.served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err := w.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, ts.srv.Clients())
}

func TestConsume_NoClients(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	srv.Consume(testutil.ExtendedSnapshot())

	sent, dropped := srv.Stats()
	assert.Zero(t, sent)
	assert.Zero(t, dropped)
}

func TestConsume_SlowClientDrops(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	id, ch := srv.addClient()
	defer srv.removeClient(id)

	for i := 1; i <= clientBuffer+3; i++ {
		s := stats.NewSnapshot()
		s.SetRefImageID(i)
		srv.Consume(s)
	}

	_, dropped := srv.Stats()
	assert.Equal(t, uint64(3), dropped)
	assert.Len(t, ch, clientBuffer)

	first := <-ch
	assert.Equal(t, float64(1), first.GetFields()["ref_image_id"].GetNumberValue())
}

func TestRegister_ServiceInfo(t *testing.T) {
	t.Parallel()

	gs := grpc.NewServer()
	NewServer().Register(gs)

	info, ok := gs.GetServiceInfo()[ServiceName]
	require.True(t, ok)
	require.Len(t, info.Methods, 1)
	assert.Equal(t, "WatchSnapshots", info.Methods[0].Name)
	assert.True(t, info.Methods[0].IsServerStream)
}
