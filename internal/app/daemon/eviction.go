package daemon

import "github.com/desduvauchelle/tamias-sub001/internal/shared/async"

// onEvict runs inside the expirable LRU's lock when a terminal sub-agent's
// retention lapses. It must not call back into the evictor synchronously.
func (e *Engine) onEvict(sessionID string, _ struct{}) {
	ls, ok := e.lookup(sessionID)
	if !ok {
		return
	}
	ls.mu.Lock()
	busy := ls.rec.Processing || len(ls.rec.Queue) > 0
	terminal := ls.rec.SubagentStatus.Terminal()
	ls.mu.Unlock()
	if !terminal {
		return
	}
	if busy {
		async.Go(e.logger, "daemon.evict.requeue", func() {
			e.evictor.Add(sessionID, struct{}{})
		})
		return
	}

	if _, removed := e.removeSession(sessionID); !removed {
		return
	}
	ls.bus.close()
	if e.store != nil {
		async.Go(e.logger, "daemon.evict.store", func() {
			if err := e.store.Delete(e.baseCtx, sessionID); err != nil {
				e.logger.Warn("Failed to delete evicted sub-agent %s from store: %v", sessionID, err)
			}
		})
	}
	e.logger.Info("Evicted terminal sub-agent %s", sessionID)
}
