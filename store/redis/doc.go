// Package redis implements store.Store on Redis for multi-process
// deployments. Jobs live in Hashes, the delayed index is a Sorted Set
// scored by due time, the wait lane is a List, and active claims sit in
// a Sorted Set scored by lease expiry. Every multi-key transition runs
// as a single Lua script, which is what makes concurrent producers,
// schedulers, and workers in separate processes safe without any
// coordination protocol.
//
// Events ride Redis PUBLISH/SUBSCRIBE on a per-queue channel: delivery
// starts at subscription time, in publish order.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
