package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradingcore/internal/model"
	"tradingcore/pkg/db"
)

// AdapterFactory constructs a fresh (DataBroker, OrderBroker) pair for a
// given broker code, decrypted credentials and session token, one function
// per broker variant. Grounded on the teacher's internal/gateway/factory.go
// switch-on-type shape.
type AdapterFactory func(ub model.UserBroker, session model.Session, credentials string) (DataBroker, OrderBroker, error)

// CredentialDecryptor resolves a UserBroker.CredentialsRef into the raw
// secret an AdapterFactory needs to authenticate, so credentials never sit
// in the database in plaintext. Grounded on the teacher's
// pkg/crypto.KeyManager (AES-256-GCM, versioned keys for rotation).
type CredentialDecryptor interface {
	Decrypt(ciphertext string) (string, error)
}

// circuitState tracks the teacher's internal/gateway/manager.go
// failure-threshold/cooldown pattern per broker code, so a broker having a
// bad day doesn't get hammered by every user-broker that shares it.
type circuitState struct {
	failures   int
	openUntil  time.Time
}

// BrokerFactory resolves (userBrokerId) -> (DataBroker, OrderBroker) using
// the Session table for tokens, per spec §4.13. Connections are cached per
// user-broker; a simple circuit breaker (grounded on
// internal/gateway/manager.go) short-circuits repeatedly-failing broker
// codes rather than retrying a doomed connection on every signal.
type BrokerFactory struct {
	mu         sync.Mutex
	db         *db.Database
	adapters   map[string]AdapterFactory // brokerCode -> constructor
	decryptor  CredentialDecryptor
	cache      map[string]pair           // userBrokerId -> cached adapters
	circuits   map[string]*circuitState  // brokerCode -> circuit state

	FailureThreshold int
	CircuitCooldown  time.Duration
}

type pair struct {
	data  DataBroker
	order OrderBroker
}

// NewBrokerFactory builds a factory with the default circuit parameters
// (5 consecutive failures, 60s cooldown), mirroring the teacher's gateway
// pool defaults. decryptor may be nil for adapters that take no credentials
// (e.g. the in-process simulator).
func NewBrokerFactory(database *db.Database, adapters map[string]AdapterFactory, decryptor CredentialDecryptor) *BrokerFactory {
	return &BrokerFactory{
		db:               database,
		adapters:         adapters,
		decryptor:        decryptor,
		cache:            make(map[string]pair),
		circuits:         make(map[string]*circuitState),
		FailureThreshold: 5,
		CircuitCooldown:  60 * time.Second,
	}
}

// Resolve returns the (DataBroker, OrderBroker) pair for a user-broker,
// using a cached connection when present and the circuit is closed.
func (f *BrokerFactory) Resolve(ctx context.Context, ub model.UserBroker) (DataBroker, OrderBroker, error) {
	f.mu.Lock()
	if cs, ok := f.circuits[ub.BrokerCode]; ok && time.Now().Before(cs.openUntil) {
		f.mu.Unlock()
		return nil, nil, fmt.Errorf("broker %s circuit open until %s", ub.BrokerCode, cs.openUntil)
	}
	if p, ok := f.cache[ub.UserBrokerID]; ok {
		f.mu.Unlock()
		return p.data, p.order, nil
	}
	f.mu.Unlock()

	ctor, ok := f.adapters[ub.BrokerCode]
	if !ok {
		return nil, nil, fmt.Errorf("no adapter registered for broker code %q", ub.BrokerCode)
	}
	session, err := f.db.LatestSession(ctx, ub.UserBrokerID)
	if err != nil && err != db.ErrNotFound {
		return nil, nil, fmt.Errorf("load session for %s: %w", ub.UserBrokerID, err)
	}

	var credentials string
	if ub.CredentialsRef != "" {
		if f.decryptor == nil {
			return nil, nil, fmt.Errorf("user broker %s has a credentials ref but no decryptor is configured", ub.UserBrokerID)
		}
		credentials, err = f.decryptor.Decrypt(ub.CredentialsRef)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt credentials for %s: %w", ub.UserBrokerID, err)
		}
	}

	data, order, err := ctor(ub, session, credentials)
	if err != nil {
		f.recordFailure(ub.BrokerCode)
		return nil, nil, err
	}

	f.mu.Lock()
	f.cache[ub.UserBrokerID] = pair{data: data, order: order}
	delete(f.circuits, ub.BrokerCode)
	f.mu.Unlock()
	return data, order, nil
}

func (f *BrokerFactory) recordFailure(brokerCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs, ok := f.circuits[brokerCode]
	if !ok {
		cs = &circuitState{}
		f.circuits[brokerCode] = cs
	}
	cs.failures++
	if cs.failures >= f.FailureThreshold {
		cs.openUntil = time.Now().Add(f.CircuitCooldown)
	}
}

// Evict drops a cached connection, forcing the next Resolve to reconnect
// (used after a session is revoked or a transport error suggests a stale
// connection).
func (f *BrokerFactory) Evict(userBrokerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, userBrokerID)
}

// ResolveEnv derives a BrokerEnv from explicit configuration markers only,
// never from URL substrings, so the StartupGate can trust it (spec §4.13).
func ResolveEnv(explicit string) model.BrokerEnv {
	switch explicit {
	case string(model.EnvProduction):
		return model.EnvProduction
	case string(model.EnvUAT):
		return model.EnvUAT
	default:
		return model.EnvSandbox
	}
}
