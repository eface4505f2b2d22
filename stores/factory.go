package stores

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/spf13/viper"

	rt "burnafter.io/shout/common/retry"
	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
)

/*
 Store factories. Backends are picked via env configuration so the same
 binaries run against redis/s3/couchdb in production and in-process fakes in
 development.
*/

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendS3     = "s3"
)

func NewShoutStore() (ShoutStore, *se.Err) {
	switch b := viper.GetString(cst.EnvShoutStoreBackend); b {
	case BackendMemory:
		return NewMemShoutStore(), nil
	case BackendRedis, "":
		db, err := newRedisClient()
		if err != nil {
			return nil, err
		}
		return &RedisShoutStore{DB: db}, nil
	default:
		return nil, se.NewBadInput(fmt.Sprintf("unknown shout store backend %q", b))
	}
}

func NewChatStore() (ChatStore, *se.Err) {
	switch b := viper.GetString(cst.EnvShoutStoreBackend); b {
	case BackendMemory:
		return NewMemChatStore(), nil
	case BackendRedis, "":
		db, err := newRedisClient()
		if err != nil {
			return nil, err
		}
		return &RedisChatStore{DB: db}, nil
	default:
		return nil, se.NewBadInput(fmt.Sprintf("unknown chat store backend %q", b))
	}
}

func NewFileStore() (FileStore, *se.Err) {
	switch b := viper.GetString(cst.EnvFileStoreBackend); b {
	case BackendMemory:
		return NewMemFileStore(), nil
	case BackendS3:
		return NewS3FileStore()
	case BackendLocal, "":
		return NewLocalFileStore(), nil
	default:
		return nil, se.NewBadInput(fmt.Sprintf("unknown file store backend %q", b))
	}
}

func NewAuditStore() (AuditStore, *se.Err) {
	if viper.GetString(cst.EnvCouchAddr) == "" {
		return NopAuditStore{}, nil
	}
	return NewCouchAuditStore()
}

// newRedisClient builds a redis client and verifies it is usable. Dependencies
// may still be coming up when we boot, hence the retried ping.
func newRedisClient() (*redis.Client, *se.Err) {
	retryOpts := []rt.RetryOption{
		rt.WithTimeout(3 * time.Second),
		rt.WithBaseDelay(100 * time.Millisecond),
		rt.WithExp(2.0),
		rt.WithRetryOn(rt.IsDepOffline),
	}
	client := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%s", viper.GetString(cst.EnvRedisHost), viper.GetString(cst.EnvRedisPort)),
		Password:   viper.GetString(cst.EnvRedisPasswd),
		DB:         viper.GetInt(cst.EnvRedisDB),
		MaxRetries: 3,
	})
	pingFn := func() error {
		_, err := client.Ping().Result()
		return err
	}
	if err := rt.Retry(pingFn, retryOpts...); err != nil {
		return nil, se.NewServiceFailure("failed initializing redis").WithCause(err)
	}
	return client, nil
}
