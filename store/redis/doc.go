// Package redis implements store.Store on Redis with go-redis/v9.
//
// Each record is a Redis Hash. A Sorted Set scored by creation time
// indexes every record, and one Set per state indexes the active scans.
// Transitions are optimistic: the record key is WATCHed, the transition is
// applied in Go, and the write is committed with MULTI/EXEC, retrying when
// another writer got there first.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
