package instance

import (
	"context"

	"github.com/testground/chainbench/pkg/runtime"
)

// The Record* methods publish run events for external progress tracking.
// They never wait on the sync service; failures are logged and dropped.

func (i *Instance) RecordStageStart(ctx context.Context, name string) {
	i.record(ctx, &runtime.Event{StageStartEvent: &runtime.StageEvent{Name: name, Group: i.Params.TestGroupID}})
}

func (i *Instance) RecordStageEnd(ctx context.Context, name string) {
	i.record(ctx, &runtime.Event{StageEndEvent: &runtime.StageEvent{Name: name, Group: i.Params.TestGroupID}})
}

func (i *Instance) RecordSuccess(ctx context.Context) {
	i.record(ctx, &runtime.Event{SuccessEvent: &runtime.SuccessEvent{Group: i.Params.TestGroupID}})
}

func (i *Instance) RecordFailure(ctx context.Context, err error) {
	i.record(ctx, &runtime.Event{FailureEvent: &runtime.FailureEvent{Group: i.Params.TestGroupID, Error: err.Error()}})
}

func (i *Instance) RecordMessage(ctx context.Context, msg string) {
	i.record(ctx, &runtime.Event{MessageEvent: &runtime.MessageEvent{Group: i.Params.TestGroupID, Message: msg}})
}

func (i *Instance) record(ctx context.Context, evt *runtime.Event) {
	i.log.Infow("event", "type", evt.Type(), "event", evt.String())
	if err := i.Client.SignalEvent(ctx, evt); err != nil {
		i.log.Warnw("failed to record event", "type", evt.Type(), "err", err)
	}
}
