package stores

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"burnafter.io/shout/common/logging"
	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
	"github.com/go-redis/redis"
	"github.com/spf13/viper"
)

// ShoutStore vends the interface to interact with shout records. Claim is the
// only operation allowed to consume a view; every other read is side-effect free.
type ShoutStore interface {
	// Create persists a brand-new shout record and indexes it for expiry sweeps
	Create(s *md.Shout) *se.Err
	// Get returns the shout record without consuming a view
	Get(hash string) (*md.Shout, *se.Err)
	// Exists tells whether a record with the hash was ever created and is still
	// retained, regardless of whether its content is gone
	Exists(hash string) (bool, *se.Err)
	// Claim atomically consumes one view of the shout as of now. Concurrent
	// claims never over-grant: across all callers at most MaxHits claims ever
	// succeed for one shout.
	Claim(hash string, now time.Time) (*md.ClaimOutcome, *se.Err)
	// MarkExpired deactivates up to max active shouts whose deadline passed as
	// of now and queues their payloads for reclamation. Returns how many records
	// it deactivated. Idempotent.
	MarkExpired(now time.Time, max int) (int, *se.Err)
	// Junk returns inactive shouts whose payload bytes still await reclamation,
	// of size max; it returns all of them when max == 0
	Junk(max int) ([]*md.Junk, *se.Err)
	// ClearStorageKey marks the shout's payload as reclaimed. Caller must ensure
	// the payload bytes are gone from file storage before calling it.
	ClearStorageKey(hash string) *se.Err
	Close() *se.Err
}

// RedisShoutStore is a ShoutStore implementation driven by Redis. All lifecycle
// transitions run as server-side scripts so they stay atomic under concurrency.
type RedisShoutStore struct {
	DB *redis.Client
}

const (
	fieldNameType        = "type"
	fieldNameMaxHits     = "maxHits"
	fieldNameCurrentHits = "currentHits"
	fieldNameContentText = "contentText"
	fieldNameStorageKey  = "storageKey"
	fieldNameActive      = "active"
	fieldNameBurnReason  = "burnReason"
	fieldNameOwnerID     = "ownerId"
	fieldNameCreatedAt   = "createdAt"
	fieldNameExpiresAt   = "expiresAt"

	// redis key of the sorted set indexing active shouts by expiry deadline
	keyShoutExpirySet = "shoutExpirySet"
	// redis key of the set holding hashes of burnt shouts with payload bytes
	// still in file storage
	keyShoutReclaimSet = "shoutReclaimSet"
	// template to form the redis key of a shout record
	keyTmplShout = `shout.%s`
)

// claimScript consumes one view in a single atomic step: liveness checks,
// counter increment, deactivation and the returned record snapshot all happen
// inside Redis, so no interleaving of concurrent claims can over-grant.
// KEYS: shout key, expiry zset, reclaim set. ARGV: now (unix seconds), hash.
// Returns {reason} on denial or {"granted", field, value, ...} on grant.
var claimScript = redis.NewScript(`
local function burn(reason)
	redis.call("HMSET", KEYS[1], "active", "0", "burnReason", reason)
	redis.call("ZREM", KEYS[2], ARGV[2])
	local sk = redis.call("HGET", KEYS[1], "storageKey")
	if sk and sk ~= "" then
		redis.call("SADD", KEYS[3], ARGV[2])
	end
end
if redis.call("EXISTS", KEYS[1]) == 0 then
	return {"not_found"}
end
if redis.call("HGET", KEYS[1], "active") ~= "1" then
	return {redis.call("HGET", KEYS[1], "burnReason")}
end
if tonumber(ARGV[1]) >= tonumber(redis.call("HGET", KEYS[1], "expiresAt")) then
	burn("expired")
	return {"expired"}
end
local max = tonumber(redis.call("HGET", KEYS[1], "maxHits"))
if tonumber(redis.call("HGET", KEYS[1], "currentHits")) >= max then
	burn("exhausted")
	return {"exhausted"}
end
local cur = redis.call("HINCRBY", KEYS[1], "currentHits", 1)
if cur >= max then
	burn("exhausted")
end
local data = redis.call("HGETALL", KEYS[1])
local res = {"granted"}
for i = 1, #data do
	res[#res+1] = data[i]
end
return res
`)

// markExpiredScript deactivates up to ARGV[2] shouts whose deadline <= ARGV[1]
// and queues payload-bearing ones for reclamation.
// KEYS: expiry zset, reclaim set.
var markExpiredScript = redis.NewScript(`
local hashes = redis.call("ZRANGEBYSCORE", KEYS[1], "0", ARGV[1], "LIMIT", "0", ARGV[2])
local n = 0
for _, hash in ipairs(hashes) do
	local key = "shout." .. hash
	if redis.call("EXISTS", key) == 1 and redis.call("HGET", key, "active") == "1" then
		redis.call("HMSET", key, "active", "0", "burnReason", "expired")
		local sk = redis.call("HGET", key, "storageKey")
		if sk and sk ~= "" then
			redis.call("SADD", KEYS[2], hash)
		end
		n = n + 1
	end
	redis.call("ZREM", KEYS[1], hash)
end
return n
`)

func (s *RedisShoutStore) Create(sh *md.Shout) *se.Err {
	const errMsg = "error creating shout"
	clog := logging.WithFuncName().WithField("shoutHash", sh.Hash)
	key := shoutKey(sh.Hash)
	active := "0"
	if sh.Active {
		active = "1"
	}
	if _, err := s.DB.HMSet(key, map[string]interface{}{
		fieldNameType:        string(sh.Type),
		fieldNameMaxHits:     sh.MaxHits,
		fieldNameCurrentHits: sh.CurrentHits,
		fieldNameContentText: sh.ContentText,
		fieldNameStorageKey:  sh.StorageKey,
		fieldNameActive:      active,
		fieldNameBurnReason:  sh.BurnReason,
		fieldNameOwnerID:     sh.OwnerID,
		fieldNameCreatedAt:   sh.CreatedAt.Unix(),
		fieldNameExpiresAt:   sh.ExpiresAt.Unix(),
	}).Result(); err != nil {
		clog.WithError(err).Error("error caching shout record in redis")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	// burnt records linger for auditability; the retention TTL, not the shout's
	// own deadline, bounds the record's life
	if _, err := s.DB.Expire(key, cst.RecordRetention).Result(); err != nil {
		clog.WithError(err).Error("error setting shout record retention")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	member := redis.Z{
		Score:  float64(sh.ExpiresAt.Unix()),
		Member: sh.Hash,
	}
	if _, err := s.DB.ZAddNX(keyShoutExpirySet, member).Result(); err != nil {
		clog.WithError(err).Error("error calling redis to index shout by expiry")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	return nil
}

func (s *RedisShoutStore) Get(hash string) (*md.Shout, *se.Err) {
	clog := logging.WithFuncName().WithField("shoutHash", hash)
	m, err := s.DB.HGetAll(shoutKey(hash)).Result()
	if err != nil {
		msg := "error getting shout record"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	// redis returns an empty map if retention had removed the record
	if len(m) == 0 {
		return nil, se.NewNotFound(fmt.Sprintf("shout %s not found", hash))
	}
	sh, perr := parseShout(hash, m)
	if perr != nil {
		clog.WithError(perr).Error("error parsing shout record")
		return nil, perr
	}
	return sh, nil
}

func (s *RedisShoutStore) Exists(hash string) (bool, *se.Err) {
	n, err := s.DB.Exists(shoutKey(hash)).Result()
	if err != nil {
		msg := "error checking shout existence"
		logging.WithFuncName().WithError(err).WithField("shoutHash", hash).Error(msg)
		return false, se.NewServiceFailure(msg).WithCause(err)
	}
	return n > 0, nil
}

func (s *RedisShoutStore) Claim(hash string, now time.Time) (*md.ClaimOutcome, *se.Err) {
	clog := logging.WithFuncName().WithField("shoutHash", hash)
	keys := []string{shoutKey(hash), keyShoutExpirySet, keyShoutReclaimSet}
	res, err := claimScript.Run(s.DB, keys, now.Unix(), hash).Result()
	if err != nil {
		msg := "error claiming shout view"
		clog.WithError(err).Error(msg)
		return nil, se.NewServiceFailure(msg).WithCause(err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) == 0 {
		msg := "unexpected claim script reply"
		clog.WithField("reply", res).Error(msg)
		return nil, se.NewServiceFailure(msg)
	}
	verdict, _ := arr[0].(string)
	if verdict != "granted" {
		return &md.ClaimOutcome{Granted: false, Reason: verdict}, nil
	}
	// rest of the reply is the post-increment record snapshot as flat field-value pairs
	m := make(map[string]string, (len(arr)-1)/2)
	for i := 1; i+1 < len(arr); i += 2 {
		f, _ := arr[i].(string)
		v, _ := arr[i+1].(string)
		m[f] = v
	}
	sh, perr := parseShout(hash, m)
	if perr != nil {
		clog.WithError(perr).Error("error parsing claimed shout snapshot")
		return nil, perr
	}
	return &md.ClaimOutcome{Granted: true, Shout: sh}, nil
}

func (s *RedisShoutStore) MarkExpired(now time.Time, max int) (int, *se.Err) {
	clog := logging.WithFuncName()
	if max <= 0 {
		return 0, se.NewBadInput(fmt.Sprintf("got non-positive max item count %d", max))
	}
	keys := []string{keyShoutExpirySet, keyShoutReclaimSet}
	res, err := markExpiredScript.Run(s.DB, keys, now.Unix(), max).Result()
	if err != nil {
		msg := "error marking expired shouts"
		clog.WithError(err).Error(msg)
		return 0, se.NewServiceFailure(msg).WithCause(err)
	}
	n, ok := res.(int64)
	if !ok {
		msg := "unexpected mark-expired script reply"
		clog.WithField("reply", res).Error(msg)
		return 0, se.NewServiceFailure(msg)
	}
	clog.WithField("deactivated", n).Debug("done marking expired shouts")
	return int(n), nil
}

func (s *RedisShoutStore) Junk(max int) ([]*md.Junk, *se.Err) {
	const errMsg = "error loading junk shouts"
	clog := logging.WithFuncName()
	if max < 0 {
		return nil, se.NewBadInput(fmt.Sprintf("got negative max item count %d", max))
	}
	var hashes []string
	var err error
	if max == 0 {
		hashes, err = s.DB.SMembers(keyShoutReclaimSet).Result()
	} else {
		hashes, err = s.DB.SRandMemberN(keyShoutReclaimSet, int64(max)).Result()
	}
	if err != nil {
		clog.WithError(err).Error("error calling redis to get hashes of junk shouts")
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	clog.WithField("hashes", hashes).Debug("done loading junk shout hashes")
	jks, err := s.junk(hashes)
	if err != nil {
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	clog.WithField("junks", jks).Debug("done assembling junk shouts")
	return jks, nil
}

func (s *RedisShoutStore) junk(hashes []string) ([]*md.Junk, error) {
	clog := logging.WithFuncName()
	// this concurrency setup guarantees following ordering: ALL fetcher goroutines
	// finish -> the error-stat goroutine gets the very last err and the goroutine
	// executing junk() gets the last junk -> waiter goroutine unblocks from wait
	// and closes done channel -> error-stat and junk() goroutine exit.
	fpsize := viper.GetInt(cst.EnvJunkFetcherPoolSize)
	if fpsize <= 0 {
		fpsize = 4
	}
	quotas := make(chan struct{}, fpsize)
	jkChan, errChan, done := make(chan *md.Junk), make(chan error), make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(len(hashes))
	// waiter
	go func() {
		wg.Wait()
		close(done)
	}()
	// a dedicated goroutine to collect error stats
	errcnt := 0
	go func() {
		for {
			select {
			case <-errChan:
				errcnt++
			case <-done:
				return
			}
		}
	}()
	clog.WithField("fetcherPoolSize", fpsize).Debug("spawning fetchers")
	for _, hash := range hashes {
		go func(hash string) {
			// individual worker should be responsible for acquiring quota otherwise
			// we risk blocking the goroutine executing the enclosing function
			quotas <- struct{}{}
			defer func() { <-quotas }()
			defer wg.Done()
			sk, err := s.DB.HGet(shoutKey(hash), fieldNameStorageKey).Result()
			if err == redis.Nil {
				// retention removed the record from under us; nothing left to reclaim
				if _, err := s.DB.SRem(keyShoutReclaimSet, hash).Result(); err != nil {
					clog.WithError(err).WithField("shoutHash", hash).Error("error dropping orphaned reclaim entry")
					errChan <- err
				}
				return
			}
			if err != nil {
				clog.WithError(err).WithField("shoutHash", hash).Error("error getting shout storage key from redis")
				errChan <- err
				return
			}
			jkChan <- &md.Junk{ShoutHash: hash, StorageKey: sk}
		}(hash)
	}
	// goroutine executing this function to collect assembled junk shouts
	jks := make([]*md.Junk, 0, len(hashes))
	for {
		select {
		case jk := <-jkChan:
			jks = append(jks, jk)
		case <-done:
			clog.Debug("done collecting junk shouts")
			if errcnt > 0 {
				clog.Errorf("got %d errors when retrieving junk shout storage keys from redis. See log before time %s",
					errcnt, time.Now().UTC())
			}
			return jks, nil
		}
	}
}

func (s *RedisShoutStore) ClearStorageKey(hash string) *se.Err {
	clog := logging.WithFuncName().WithField("shoutHash", hash)
	// the record may already be gone if retention fired; HSET would then resurrect
	// a one-field key, so only clear the pointer while the record exists
	pipe := s.DB.TxPipeline()
	pipe.HSet(shoutKey(hash), fieldNameStorageKey, "")
	pipe.SRem(keyShoutReclaimSet, hash)
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		msg := "error clearing shout storage key"
		clog.WithError(err).Error(msg)
		return se.NewServiceFailure(msg).WithCause(err)
	}
	return nil
}

func (s *RedisShoutStore) Close() *se.Err {
	if err := s.DB.Close(); err != nil {
		return se.NewServiceFailure("failed close redis client").WithCause(err)
	}
	return nil
}

func shoutKey(hash string) string {
	return fmt.Sprintf(keyTmplShout, hash)
}

func parseShout(hash string, m map[string]string) (*md.Shout, *se.Err) {
	sh := &md.Shout{
		Hash:        hash,
		Type:        md.ShoutType(m[fieldNameType]),
		ContentText: m[fieldNameContentText],
		StorageKey:  m[fieldNameStorageKey],
		OwnerID:     m[fieldNameOwnerID],
		Active:      m[fieldNameActive] == "1",
		BurnReason:  m[fieldNameBurnReason],
	}
	maxHits, err := strconv.Atoi(m[fieldNameMaxHits])
	if err != nil {
		return nil, se.NewServiceFailure("error unmarshalling max hits").WithCause(err)
	}
	sh.MaxHits = maxHits
	curHits, err := strconv.Atoi(m[fieldNameCurrentHits])
	if err != nil {
		return nil, se.NewServiceFailure("error unmarshalling current hits").WithCause(err)
	}
	sh.CurrentHits = curHits
	createdAt, err := strconv.ParseInt(m[fieldNameCreatedAt], 10, 64)
	if err != nil {
		return nil, se.NewServiceFailure("error unmarshalling creation time").WithCause(err)
	}
	sh.CreatedAt = time.Unix(createdAt, 0).UTC()
	expiresAt, err := strconv.ParseInt(m[fieldNameExpiresAt], 10, 64)
	if err != nil {
		return nil, se.NewServiceFailure("error unmarshalling expiry deadline").WithCause(err)
	}
	sh.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return sh, nil
}
