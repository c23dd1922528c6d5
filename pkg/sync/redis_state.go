package sync

import (
	"context"
)

func (s *RedisService) Barrier(ctx context.Context, state string, target int64) error {
	if target <= 0 {
		s.log.Warnw("requested a barrier with target zero; satisfying immediately", "state", state)
		return nil
	}

	b := &barrier{
		key:    state,
		target: target,
		ctx:    ctx,
		doneCh: make(chan error, 1),
	}

	select {
	case s.barrierCh <- b:
	case <-s.ctx.Done():
		return ErrServiceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-b.doneCh
}

func (s *RedisService) SignalEntry(ctx context.Context, state string) (int64, error) {
	s.log.Debugw("signalling entry to state", "key", state)

	seq, err := s.rclient.WithContext(ctx).Incr(state).Result()
	if err != nil {
		return 0, err
	}

	s.log.Debugw("new value of state", "key", state, "value", seq)
	return seq, nil
}
