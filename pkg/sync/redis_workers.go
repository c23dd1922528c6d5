package sync

import (
	"strconv"
	"time"
)

// barrierPoll is how often the barrier worker reads the pending counters.
var barrierPoll = time.Second

// barrierWorker owns every pending barrier. It polls the counters of all
// pending states with a single MGET and releases the barriers whose target
// has been hit.
func (s *RedisService) barrierWorker() {
	defer s.wg.Done()

	pending := map[string][]*barrier{}
	log := s.log.With("process", "barriers")

	tick := time.NewTicker(barrierPoll)
	defer tick.Stop()

	for {
		select {
		case b := <-s.barrierCh:
			log.Debugw("added subscriber to barrier", "key", b.key, "target", b.target)
			pending[b.key] = append(pending[b.key], b)

		case <-tick.C:

		case <-s.ctx.Done():
			log.Debugw("yielding", "pending_barriers", len(pending))
			for _, barriers := range pending {
				for _, b := range barriers {
					b.doneCh <- ErrServiceClosed
				}
			}
			return
		}

		// Forget the barriers whose contexts have fired.
		for key, barriers := range pending {
			kept := barriers[:0]
			for _, b := range barriers {
				if err := b.ctx.Err(); err != nil {
					log.Debugw("barrier context expired; removing", "key", key)
					b.doneCh <- err
					continue
				}
				kept = append(kept, b)
			}
			if len(kept) == 0 {
				delete(pending, key)
			} else {
				pending[key] = kept
			}
		}

		if len(pending) == 0 {
			continue
		}

		keys := make([]string, 0, len(pending))
		for key := range pending {
			keys = append(keys, key)
		}

		vals, err := s.rclient.MGet(keys...).Result()
		if err != nil {
			log.Warnw("failed while getting barriers; iteration skipped", "error", err)
			continue
		}

		for i, v := range vals {
			if v == nil {
				continue // nobody has signalled this state yet.
			}

			key := keys[i]
			curr, err := strconv.ParseInt(v.(string), 10, 64)
			if err != nil {
				log.Warnw("failed to parse barrier value", "error", err, "value", v, "key", key)
				continue
			}

			kept := pending[key][:0]
			for _, b := range pending[key] {
				if curr >= b.target {
					log.Debugw("barrier was hit; informing waiters", "key", key, "target", b.target, "curr", curr)
					b.doneCh <- nil
					continue
				}
				kept = append(kept, b)
			}
			if len(kept) == 0 {
				delete(pending, key)
			} else {
				pending[key] = kept
			}
		}
	}
}
