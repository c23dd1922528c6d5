package instance

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/testground/chainbench/pkg/runtime"
	syncsvc "github.com/testground/chainbench/pkg/sync"
	"github.com/testground/chainbench/sdk/sync"
)

func startMemoryServer(t *testing.T) string {
	t.Helper()

	service := syncsvc.NewMemoryService(zap.NewNop().Sugar())
	srv, err := syncsvc.NewServer(zap.NewNop().Sugar(), service, "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		if err := srv.Serve(); err != nil && err != http.ErrServerClosed {
			t.Logf("sync server stopped: %s", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = service.Close()
		_ = srv.Shutdown(ctx)
	})
	return srv.URL()
}

// testRun builds the params of a run made of validators and fullnodes.
func testRun(validators, fullnodes int) (groups []*runtime.RunParams) {
	run := xid.New().String()
	_, subnet, _ := net.ParseCIDR("16.3.0.0/16")
	mk := func(group string, count int) *runtime.RunParams {
		return &runtime.RunParams{
			TestPlan:               "chainbench",
			TestCase:               "entrypoint",
			TestRun:                run,
			TestGroupID:            group,
			TestGroupInstanceCount: count,
			TestInstanceCount:      validators + fullnodes,
			TestSubnet:             *subnet,
			TestInstanceParams:     map[string]string{},
		}
	}
	for i := 0; i < validators; i++ {
		groups = append(groups, mk(runtime.ValidatorGroup, validators))
	}
	for i := 0; i < fullnodes; i++ {
		groups = append(groups, mk(runtime.FullnodeGroup, fullnodes))
	}
	return groups
}

func dialAll(t *testing.T, url string, params []*runtime.RunParams) []*Instance {
	t.Helper()

	out := make([]*Instance, len(params))
	for i, p := range params {
		inst, err := Dial(context.Background(), zap.NewNop().Sugar(), p, url)
		require.NoError(t, err)
		t.Cleanup(func() { _ = inst.Close() })
		out[i] = inst
	}
	return out
}

func initAll(ctx context.Context, instances []*Instance) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		inst := inst
		g.Go(func() error { return inst.InitCommon(ctx) })
	}
	return g.Wait()
}

func TestInitCommonAssignsRoles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instances := dialAll(t, startMemoryServer(t), testRun(1, 2))
	require.NoError(t, initAll(ctx, instances))

	var (
		globals                             = map[int64]bool{}
		leaders, fullnodeLeads, validatorLd int
	)
	for _, inst := range instances {
		globals[inst.GlobalSeq()] = true
		if inst.IsLeader() {
			leaders++
		}
		if inst.IsFullnodeLeader() {
			fullnodeLeads++
		}
		if inst.IsValidatorLeader() {
			validatorLd++
		}
		if inst.IsValidator() {
			require.EqualValues(t, 1, inst.GroupSeq())
		} else {
			require.Contains(t, []int64{1, 2}, inst.GroupSeq())
		}
	}
	require.Equal(t, map[int64]bool{1: true, 2: true, 3: true}, globals)
	require.Equal(t, 1, leaders)
	require.Equal(t, 1, fullnodeLeads)
	require.Equal(t, 1, validatorLd)
}

func TestPredicatesBeforeInit(t *testing.T) {
	inst := &Instance{Params: testRun(1, 0)[0]}
	require.False(t, inst.IsLeader())
	require.False(t, inst.IsValidatorLeader())
	require.True(t, inst.IsValidator())
	require.EqualValues(t, 0, inst.GlobalSeq())

	_, err := inst.Roles()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestResolveRoles(t *testing.T) {
	r := resolveRoles(1, 2)
	require.Equal(t, Leader, r.Global)
	require.Equal(t, Follower, r.Group)
	require.Equal(t, "leader", r.Global.String())

	r = resolveRoles(3, 1)
	require.Equal(t, Follower, r.Global)
	require.Equal(t, Leader, r.Group)
}

// fakeSidecar plays the part of the sidecar for n instances sharing
// hostname: it initializes their network, then acknowledges every network
// configuration published on the topic.
func fakeSidecar(ctx context.Context, client *sync.Client, hostname string, n int) error {
	for i := 0; i < n; i++ {
		if _, err := client.SignalEntry(ctx, NetworkInitializedState); err != nil {
			return err
		}
	}
	sub, err := client.Subscribe(ctx, NetworkTopicPrefix+hostname)
	if err != nil {
		return err
	}
	defer sub.Close()

	for i := 0; i < n; i++ {
		raw, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		var cfg runtime.NetworkConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return err
		}
		if _, err := client.SignalEntry(ctx, cfg.CallbackState); err != nil {
			return err
		}
	}
	return nil
}

func TestInitCommonWithSidecar(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := startMemoryServer(t)
	params := testRun(2, 1)
	for _, p := range params {
		p.TestSidecar = true
	}
	instances := dialAll(t, url, params)
	for _, inst := range instances {
		inst.Hostname = "testplan"
	}

	sidecar, err := sync.NewClient(ctx, zap.NewNop().Sugar(), url, params[0])
	require.NoError(t, err)
	defer sidecar.Close()

	sidecarErr := make(chan error, 1)
	go func() { sidecarErr <- fakeSidecar(ctx, sidecar, "testplan", len(instances)) }()

	require.NoError(t, initAll(ctx, instances))
	require.NoError(t, <-sidecarErr)
}

func TestRecordEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instances := dialAll(t, startMemoryServer(t), testRun(1, 0))
	inst := instances[0]

	sub, err := inst.Client.SubscribeEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	inst.RecordStageStart(ctx, "bootstrap")
	inst.RecordSuccess(ctx)

	var types []string
	for len(types) < 2 {
		raw, err := sub.Next(ctx)
		require.NoError(t, err)

		var evt runtime.Event
		require.NoError(t, json.Unmarshal(raw, &evt))
		types = append(types, evt.Type())
	}
	require.ElementsMatch(t, []string{"stage_start", "success"}, types)
}
