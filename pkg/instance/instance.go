// Package instance ties the run parameters of one test instance to its
// connection with the sync service. It drives the phases every instance goes
// through before doing chain specific work and answers leadership questions
// once sequence numbers are known.
package instance

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/testground/chainbench/pkg/runtime"
	"github.com/testground/chainbench/sdk/sync"
)

const (
	// NetworkInitializedState is signalled by the sidecar once per instance
	// after it has taken control of the instance network.
	NetworkInitializedState = "network-initialized"
	GlobalInitState         = "initialized_global"
	GroupInitStatePrefix    = "initialized_group_"

	NetworkTopicPrefix = "network:"
)

// ErrNotInitialized is returned by operations that need sequence numbers
// before InitCommon has completed.
var ErrNotInitialized = errors.New("instance not initialized")

// Leadership tells whether an instance leads a set of peers.
type Leadership int

const (
	Follower Leadership = iota
	Leader
)

func (l Leadership) String() string {
	if l == Leader {
		return "leader"
	}
	return "follower"
}

// Roles are the sequence numbers assigned to an instance and the leadership
// derived from them. Sequence numbers are 1-based.
type Roles struct {
	GlobalSeq int64
	GroupSeq  int64
	Global    Leadership
	Group     Leadership
}

func resolveRoles(globalSeq, groupSeq int64) Roles {
	r := Roles{GlobalSeq: globalSeq, GroupSeq: groupSeq}
	if globalSeq == 1 {
		r.Global = Leader
	}
	if groupSeq == 1 {
		r.Group = Leader
	}
	return r
}

// Instance is the coordination context of one test instance.
type Instance struct {
	Params *runtime.RunParams
	Client *sync.Client

	// Hostname scopes the network configuration topic. Defaults to the
	// hostname of the process.
	Hostname string

	log   *zap.SugaredLogger
	roles *Roles
}

// New wraps an established client.
func New(log *zap.SugaredLogger, params *runtime.RunParams, client *sync.Client) *Instance {
	hostname, err := os.Hostname()
	if err != nil {
		log.Warnw("failed to resolve hostname", "err", err)
	}
	return &Instance{
		Params:   params,
		Client:   client,
		Hostname: hostname,
		log:      log.With("group", params.TestGroupID),
	}
}

// Dial connects to the sync service at url with the run keyspace of params.
func Dial(ctx context.Context, log *zap.SugaredLogger, params *runtime.RunParams, url string) (*Instance, error) {
	client, err := sync.NewClient(ctx, log, url, params)
	if err != nil {
		return nil, err
	}
	return New(log, params, client), nil
}

// Close closes the sync client.
func (i *Instance) Close() error {
	return i.Client.Close()
}

// InitCommon waits for the network, obtains the global and group sequence
// numbers and applies the network configuration derived from them. It blocks
// until every instance of the group has reached the same point.
func (i *Instance) InitCommon(ctx context.Context) error {
	if err := i.WaitNetworkReady(ctx); err != nil {
		return err
	}

	globalSeq, err := i.Client.SignalEntry(ctx, GlobalInitState)
	if err != nil {
		return fmt.Errorf("failed to obtain global sequence: %w", err)
	}

	groupState := GroupInitStatePrefix + i.Params.TestGroupID
	groupSeq, err := i.Client.SignalAndWait(ctx, groupState, i.Params.TestGroupInstanceCount)
	if err != nil {
		return fmt.Errorf("failed to initialize group %s: %w", i.Params.TestGroupID, err)
	}

	roles := resolveRoles(globalSeq, groupSeq)
	i.roles = &roles
	i.log = i.log.With("global_seq", globalSeq, "group_seq", groupSeq)
	i.log.Infow("instance initialized", "leader", roles.Global, "group_leader", roles.Group)

	if !i.Params.TestSidecar {
		return nil
	}
	cfg, err := i.Params.NetworkConfig(int(globalSeq), runtime.NetworkConfiguredState)
	if err != nil {
		return err
	}
	return i.ConfigNetwork(ctx, cfg)
}

// WaitNetworkReady blocks until the sidecar has initialized the network of
// every instance. Without a sidecar it returns immediately.
func (i *Instance) WaitNetworkReady(ctx context.Context) error {
	if !i.Params.TestSidecar {
		return nil
	}

	i.RecordStageStart(ctx, NetworkInitializedState)
	if err := i.Client.Barrier(ctx, NetworkInitializedState, i.Params.TestInstanceCount); err != nil {
		i.RecordMessage(ctx, "network initialisation failed")
		return fmt.Errorf("failed to initialize network: %w", err)
	}
	i.RecordStageEnd(ctx, NetworkInitializedState)
	return nil
}

// ConfigNetwork asks the sidecar to apply cfg and waits until it has done so
// for every instance. Without a sidecar it is a no-op.
func (i *Instance) ConfigNetwork(ctx context.Context, cfg *runtime.NetworkConfig) error {
	if !i.Params.TestSidecar {
		return nil
	}
	if cfg.CallbackState == "" {
		return fmt.Errorf("network configuration lacks a callback state")
	}

	topic := NetworkTopicPrefix + i.Hostname
	if _, err := i.Client.PublishAndWait(ctx, topic, cfg, cfg.CallbackState, i.Params.TestInstanceCount); err != nil {
		return fmt.Errorf("failed to configure network: %w", err)
	}
	i.log.Infow("network configured", "ipv4", cfg.IPv4)
	return nil
}

// Roles returns the resolved roles, or ErrNotInitialized.
func (i *Instance) Roles() (Roles, error) {
	if i.roles == nil {
		return Roles{}, ErrNotInitialized
	}
	return *i.roles, nil
}

// GlobalSeq is the 1-based position of the instance in the run, or 0 before
// InitCommon.
func (i *Instance) GlobalSeq() int64 {
	if i.roles == nil {
		return 0
	}
	return i.roles.GlobalSeq
}

// GroupSeq is the 1-based position of the instance in its group, or 0 before
// InitCommon.
func (i *Instance) GroupSeq() int64 {
	if i.roles == nil {
		return 0
	}
	return i.roles.GroupSeq
}

func (i *Instance) IsLeader() bool {
	return i.roles != nil && i.roles.Global == Leader
}

func (i *Instance) IsValidator() bool {
	return i.Params.IsValidator()
}

func (i *Instance) IsFullnodeLeader() bool {
	return !i.IsValidator() && i.roles != nil && i.roles.Group == Leader
}

func (i *Instance) IsValidatorLeader() bool {
	return i.IsValidator() && i.roles != nil && i.roles.Group == Leader
}
