package lib

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisPool publishes download events. Keys:
//
//	<prefix>:downloads   total counter
//	<prefix>:paths       hash of path -> count
//	<prefix>:events      pub/sub channel carrying JSON events
type RedisPool struct {
	Pool   *redis.Pool
	Prefix string
}

// NewRedisPool returns a pool for host ("host" or "host:port").
func NewRedisPool(host string) *RedisPool {
	addr := host
	if !strings.Contains(addr, ":") {
		addr += ":6379"
	}
	return &RedisPool{
		Pool: &redis.Pool{
			MaxIdle:     6,
			IdleTimeout: 240 * time.Second,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", addr)
			},
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
		Prefix: "k2share",
	}
}

// Ping checks the connection. Startup logs the failure and keeps going.
func (r *RedisPool) Ping() error {
	conn := r.Pool.Get()
	defer conn.Close()
	_, err := conn.Do("PING")
	return err
}

func (r *RedisPool) key(s string) string {
	return r.Prefix + ":" + s
}

// Record implements Sink.
func (r *RedisPool) Record(e DownloadEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	conn := r.Pool.Get()
	defer conn.Close()

	conn.Send("MULTI")
	conn.Send("INCR", r.key("downloads"))
	conn.Send("HINCRBY", r.key("paths"), e.Path, 1)
	conn.Send("PUBLISH", r.key("events"), b)
	_, err = conn.Do("EXEC")
	return err
}

// Total reads the download counter.
func (r *RedisPool) Total() (int64, error) {
	conn := r.Pool.Get()
	defer conn.Close()
	n, err := redis.Int64(conn.Do("GET", r.key("downloads")))
	if err == redis.ErrNil {
		return 0, nil
	}
	return n, err
}

// Close closes the pool.
func (r *RedisPool) Close() error {
	if err := r.Pool.Close(); err != nil {
		log.Println("redis", err)
		return err
	}
	return nil
}
