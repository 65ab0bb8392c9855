package database

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnState is the catalog connection state reported by /api/health/db.
// The numeric values are the ready_state codes clients already expect.
type ConnState int32

const (
	StateDisconnected  ConnState = 0
	StateConnected     ConnState = 1
	StateConnecting    ConnState = 2
	StateDisconnecting ConnState = 3
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateConnecting:
		return "connecting"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// Mongo is the catalog persistence handle. It is opened once at start,
// passed explicitly to the stores that need it, probed on every health
// request and closed at shutdown. A nil *Mongo is valid and reports
// StateDisconnected; the server runs its catalog in memory then.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	state  atomic.Int32
}

// ConnectMongo dials uri, pings the primary and selects dbName.
func ConnectMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	m := &Mongo{}
	m.state.Store(int32(StateConnecting))

	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(5 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	m.client = client
	m.db = client.Database(dbName)
	m.state.Store(int32(StateConnected))
	return m, nil
}

// Database returns the catalog database.
func (m *Mongo) Database() *mongo.Database { return m.db }

// State pings the server and returns the resulting state. A failed ping
// on an open handle reports disconnected; the driver reconnects on its
// own and the next probe will see it.
func (m *Mongo) State(ctx context.Context) ConnState {
	if m == nil || m.client == nil {
		return StateDisconnected
	}
	if cur := ConnState(m.state.Load()); cur != StateConnected {
		return cur
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.client.Ping(pingCtx, readpref.Primary()); err != nil {
		return StateDisconnected
	}
	return StateConnected
}

// Close disconnects the client. It is safe to call on a nil handle and
// more than once.
func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if !m.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.state.Store(int32(StateDisconnected))
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return nil
	}
	return err
}
