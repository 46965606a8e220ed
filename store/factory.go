package store

import (
	"github.com/agentflow/orchestrator/telemetry"
)

// Connect attempts a Redis-backed Store and falls back to an in-process
// MemStore when Redis is unreachable, per spec.md §4.1: "When the backing
// store is unreachable, operations degrade to process-local equivalents so
// that a single-node deployment remains correct." Unlike NewRedisStore this
// never returns an error — connectivity problems are logged and degraded
// mode is entered instead, mirroring the teacher's self-healing registration
// state in core/redis_registry.go.
func Connect(redisURL, namespace string, logger telemetry.Logger) Store {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if redisURL == "" {
		logger.Warn("no redis URL configured, using in-process store", nil)
		return NewMemStore()
	}
	s, err := NewRedisStore(redisURL, namespace)
	if err != nil {
		logger.Warn("redis unreachable, degrading to in-process store", map[string]interface{}{
			"error": err.Error(),
		})
		return NewMemStore()
	}
	logger.Info("connected to redis shared store", map[string]interface{}{"namespace": namespace})
	return s
}
