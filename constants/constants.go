// Package constants vends constants used in various components of shout service, e.g., env var names
package constants

import "time"

const (
	// -------------- env vars --------------
	// common
	EnvVerbose = "SHOUT_VERBOSE"
	// stores
	EnvShoutStoreBackend       = "SHOUT_STORE_BACKEND" // redis | memory
	EnvFileStoreBackend        = "SHOUT_FILE_STORE"    // local | s3 | memory
	EnvRedisHost               = "REDIS_HOST"
	EnvRedisPort               = "REDIS_PORT"
	EnvRedisPasswd             = "REDIS_PASSWD"
	EnvRedisDB                 = "REDIS_DB"
	EnvRedisReqTimeout         = "REDIS_REQ_TIMEOUT"
	EnvJunkFetcherPoolSize     = "SHOUT_STORE_JUNK_FETCHER_POOL_SIZE"
	EnvLocalFileRoot           = "SHOUT_FILE_ROOT"
	EnvS3Endpoint              = "SHOUT_S3_ENDPOINT"
	EnvS3Region                = "SHOUT_S3_REGION"
	EnvS3Bucket                = "SHOUT_S3_BUCKET"
	EnvS3AccessKey             = "SHOUT_S3_ACCESS_KEY"
	EnvS3SecretKey             = "SHOUT_S3_SECRET_KEY"
	EnvS3ReqTimeout            = "SHOUT_S3_REQ_TIMEOUT"
	EnvCouchAddr               = "SHOUT_COUCH_ADDR"
	EnvCouchUser               = "SHOUT_COUCH_USER"
	EnvCouchPasswd             = "SHOUT_COUCH_PASSWD"
	EnvCouchAuditDBName        = "SHOUT_COUCH_AUDIT_DB"
	EnvCouchReqTimeout         = "SHOUT_COUCH_REQ_TIMEOUT"
	// servers
	EnvWriterServerAddr = "SHOUT_WRITER_SERVER_ADDR"
	EnvReaderServerAddr = "SHOUT_READER_SERVER_ADDR"
	EnvReqBodySizeMaxByte = "SHOUT_REQ_BODY_SIZE_MAX_BYTE"
	// sweeper worker
	EnvSweeperSweepFreq           = "SHOUT_SWEEPER_SWEEP_FREQ"
	EnvSweeperMaxSweepLoad        = "SHOUT_SWEEPER_MAX_SWEEP_LOAD"
	EnvSweeperExecutorPoolSize    = "SHOUT_SWEEPER_EXEC_POOL_SIZE"
	EnvSweeperLocalCacheSize      = "SHOUT_SWEEPER_LOCAL_CACHE_SIZE"
	EnvSweeperWIPCacheEntryExpiry = "SHOUT_SWEEPER_WIP_CACHE_ENTRY_EXPIRY"

	// -------------- shout limits --------------
	MinHits        = 1
	MaxHits        = 100
	MinTimeMinutes = 1
	MaxTimeMinutes = 1440

	MaxTextBytes  = 10000
	MaxPhotoBytes = 10 << 20
	MaxAudioBytes = 50 << 20
	MaxVideoBytes = 100 << 20

	// chat rooms live for a fixed period, not configurable
	RoomGoodFor = 5 * time.Minute
	RoomHashLen = 16

	// inactive records linger for this long to keep audit lookups working
	// before the store reclaims the row itself
	RecordRetention = 30 * 24 * time.Hour

	// -------------- claim denial reasons --------------
	ReasonNotFound  = "not_found"
	ReasonExpired   = "expired"
	ReasonExhausted = "exhausted"
	ReasonError     = "error"

	// -------------- error messages --------------
	ErrMsgRequestBodyTooLarge = "request body too large"

	// -------------- log fields --------------
	LogFieldFuncName = "funcName"
)
