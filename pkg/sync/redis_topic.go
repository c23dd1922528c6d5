package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v7"
)

// Publish appends payload to the stream of topic. The returned sequence
// number is the length of the stream after the append, starting with 1.
func (s *RedisService) Publish(ctx context.Context, topic string, payload json.RawMessage) (int64, error) {
	log := s.log.With("topic", topic)
	log.Debugw("publishing item on topic", "payload", string(payload))

	args := &redis.XAddArgs{
		ID:     "*",
		Stream: topic,
		Values: map[string]interface{}{RedisPayloadKey: []byte(payload)},
	}

	// XADD and XLEN in one transaction so the length is the item's position.
	pipe := s.rclient.TxPipeline()
	_ = pipe.XAdd(args)
	xlen := pipe.XLen(topic)

	if _, err := pipe.ExecContext(ctx); err != nil {
		log.Debugw("failed to publish item", "error", err)
		return 0, err
	}

	seq := xlen.Val()
	log.Debugw("successfully published item; sequence number obtained", "seq", seq)
	return seq, nil
}

func (s *RedisService) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ctx.Err(); err != nil {
		return nil, ErrServiceClosed
	}

	sub := newSubscription()

	s.wg.Add(1)
	go s.consume(ctx, topic, sub)

	return sub, nil
}

// consume reads the stream of topic from its start and forwards every item
// to sub until ctx or the service is done.
func (s *RedisService) consume(ctx context.Context, topic string, sub *Subscription) {
	defer s.wg.Done()

	log := s.log.With("process", "subscription", "topic", topic)
	lastID := "0"

	stop := func() bool {
		select {
		case <-ctx.Done():
			sub.doneCh <- ctx.Err()
			return true
		case <-s.ctx.Done():
			sub.doneCh <- ErrServiceClosed
			return true
		default:
			return false
		}
	}

	for !stop() {
		streams, err := s.rclient.XRead(&redis.XReadArgs{
			Streams: []string{topic, lastID},
			Block:   subscriptionPoll,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if stop() {
				return
			}
			log.Warnw("failed to read stream", "error", err)
			sub.doneCh <- fmt.Errorf("failed to read topic %s: %w", topic, err)
			return
		}

		for _, xr := range streams {
			for _, msg := range xr.Messages {
				lastID = msg.ID
				v, ok := msg.Values[RedisPayloadKey].(string)
				if !ok {
					log.Warnw("dropping stream entry without payload", "id", msg.ID)
					continue
				}
				select {
				case sub.outCh <- json.RawMessage(v):
				case <-ctx.Done():
					sub.doneCh <- ctx.Err()
					return
				case <-s.ctx.Done():
					sub.doneCh <- ErrServiceClosed
					return
				}
			}
		}
	}
}
