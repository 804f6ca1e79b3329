package layerqueue

import (
	"errors"
	"net"
	"time"

	"github.com/FZambia/sentinel"
	"github.com/gomodule/redigo/redis"

	"github.com/xshapira/fast-channels/config"
)

// newPool builds a redigo connection pool for one shard endpoint, dialing
// directly or discovering the current primary through Sentinel.
func newPool(ep config.ShardEndpoint, connectTimeout, readTimeout, writeTimeout time.Duration) (*redis.Pool, *sentinel.Sentinel) {
	useSentinel := ep.MasterName != "" && len(ep.SentinelAddrs) > 0

	serverAddr := net.JoinHostPort(ep.Host, ep.Port)

	maxIdle := 10
	if ep.PoolSize > 0 && ep.PoolSize < maxIdle {
		maxIdle = ep.PoolSize
	}
	maxActive := ep.PoolSize
	if maxActive <= 0 {
		maxActive = 10
	}

	var sntnl *sentinel.Sentinel
	if useSentinel {
		sntnl = &sentinel.Sentinel{
			Addrs:      ep.SentinelAddrs,
			MasterName: ep.MasterName,
			Dial: func(addr string) (redis.Conn, error) {
				timeout := 300 * time.Millisecond
				return redis.DialTimeout("tcp", addr, timeout, timeout, timeout)
			},
		}
	}

	pool := &redis.Pool{
		MaxIdle:     maxIdle,
		MaxActive:   maxActive,
		Wait:        true,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			addr := serverAddr
			if useSentinel {
				var err error
				addr, err = sntnl.MasterAddr()
				if err != nil {
					return nil, err
				}
			}

			c, err := redis.DialTimeout("tcp", addr, connectTimeout, readTimeout, writeTimeout)
			if err != nil {
				return nil, err
			}

			if ep.Password != "" {
				if _, err := c.Do("AUTH", ep.Password); err != nil {
					c.Close()
					return nil, err
				}
			}
			if ep.DB != 0 {
				if _, err := c.Do("SELECT", ep.DB); err != nil {
					c.Close()
					return nil, err
				}
			}
			return c, nil
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if useSentinel {
				if !sentinel.TestRole(c, "master") {
					return errors.New("layerqueue: failed master role check")
				}
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return pool, sntnl
}

// discoverLoop periodically refreshes a Sentinel's known topology. Started
// once per sentinel-backed shard.
func discoverLoop(sntnl *sentinel.Sentinel, stop <-chan struct{}) {
	if err := sntnl.Discover(); err != nil {
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = sntnl.Discover()
		}
	}
}
