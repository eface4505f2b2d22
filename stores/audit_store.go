package stores

import (
	"context"
	"time"

	"github.com/go-kivik/couchdb/v3"
	kivik "github.com/go-kivik/kivik/v3"
	"github.com/spf13/viper"

	"burnafter.io/shout/common/logging"
	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
)

// AuditStore records claim attempts for after-the-fact inspection. It is
// write-only telemetry; serving decisions never read from it.
type AuditStore interface {
	Record(a *md.ClaimAttempt) *se.Err
	Close() *se.Err
}

// CouchAuditStore implements AuditStore with CouchDB, whose append-heavy,
// read-rare access pattern fits an audit trail well
type CouchAuditStore struct {
	Client     *kivik.Client
	DB         *kivik.DB
	ReqTimeout time.Duration
}

func NewCouchAuditStore() (*CouchAuditStore, *se.Err) {
	timeout := viper.GetDuration(cst.EnvCouchReqTimeout)
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := kivik.New("couch", viper.GetString(cst.EnvCouchAddr))
	if err != nil {
		return nil, se.NewServiceFailure("failed creating couchdb client").WithCause(err)
	}
	if err := client.Authenticate(ctx, couchdb.BasicAuth(
		viper.GetString(cst.EnvCouchUser), viper.GetString(cst.EnvCouchPasswd))); err != nil {
		return nil, se.NewServiceFailure("failed authenticating against couchdb").WithCause(err)
	}
	dbName := viper.GetString(cst.EnvCouchAuditDBName)
	if dbName == "" {
		dbName = "shout_claim_audit"
	}
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, se.NewServiceFailure("failed checking audit db existence").WithCause(err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, se.NewServiceFailure("failed creating audit db").WithCause(err)
		}
	}
	return &CouchAuditStore{
		Client:     client,
		DB:         client.DB(ctx, dbName),
		ReqTimeout: timeout,
	}, nil
}

func (s *CouchAuditStore) Record(a *md.ClaimAttempt) *se.Err {
	clog := logging.WithFuncName().WithField("shoutHash", a.ShoutHash)
	ctx, cancel := context.WithTimeout(context.Background(), s.ReqTimeout)
	defer cancel()
	if _, err := s.DB.Put(ctx, a.ID, a); err != nil {
		msg := "error saving claim attempt record"
		clog.WithError(err).Error(msg)
		return se.NewServiceFailure(msg).WithCause(err)
	}
	return nil
}

func (s *CouchAuditStore) Close() *se.Err {
	// kivik's couch driver holds no long-lived connections beyond the http
	// client's idle pool
	return nil
}

// NopAuditStore discards every record, for setups that run without an audit trail
type NopAuditStore struct{}

func (NopAuditStore) Record(*md.ClaimAttempt) *se.Err {
	return nil
}

func (NopAuditStore) Close() *se.Err {
	return nil
}
