package sink

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-sql-driver/mysql"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/events"
	"OpenMCP-ChainManager/pkg/logger"
)

type memorySink struct {
	name string
	err  error

	mu  sync.Mutex
	got []events.Envelope
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Publish(_ context.Context, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, env)
	return s.err
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func removedEvent() events.ChainRemoved {
	return events.ChainRemoved{ChainID: "0x89", ChainName: "Polygon Mainnet", Timestamp: time.Now(), Reason: events.ReasonUser}
}

func TestForwarderDeliversBusEvents(t *testing.T) {
	bus := events.NewBus(events.WithLogger(logger.Discard()))
	mem := &memorySink{name: "memory"}
	fwd := NewForwarder([]Sink{mem}, WithLogger(logger.Discard()))
	fwd.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fwd.Run(ctx) }()

	bus.Emit(removedEvent())
	require.Eventually(t, func() bool { return mem.count() == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Zero(t, bus.ListenerCount(events.NameChainRemoved))

	env := mem.got[0]
	require.Equal(t, events.NameChainRemoved, env.Name)
	require.NotEmpty(t, env.ID)
	require.Contains(t, string(env.Payload), `"chainId":"0x89"`)
}

func TestForwarderDropsWhenBufferFull(t *testing.T) {
	bus := events.NewBus(events.WithLogger(logger.Discard()))
	fwd := NewForwarder(nil, WithBuffer(1), WithLogger(logger.Discard()))
	fwd.Attach(bus)

	bus.Emit(removedEvent())
	bus.Emit(removedEvent())
	require.Len(t, fwd.queue, 1)
}

func TestDeliverContinuesPastFailingSink(t *testing.T) {
	failing := &memorySink{name: "broken", err: errors.New("broker down")}
	healthy := &memorySink{name: "memory"}
	fwd := NewForwarder([]Sink{failing, healthy}, WithLogger(logger.Discard()))

	env, err := events.NewEnvelope(removedEvent())
	require.NoError(t, err)

	err = fwd.Deliver(context.Background(), env)
	require.Equal(t, xerrors.CodeSinkFailure, xerrors.CodeOf(err))
	require.ErrorContains(t, err, "broker down")
	require.Equal(t, 1, healthy.count())
}

type fakeRedis struct {
	err     error
	channel string
	message []byte
	closed  bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisSinkPublishesEnvelope(t *testing.T) {
	client := &fakeRedis{}
	s := newRedisSink(client, "")
	env, err := events.NewEnvelope(removedEvent())
	require.NoError(t, err)

	require.NoError(t, s.Publish(context.Background(), env))
	require.Equal(t, "chainmgr:events", client.channel)

	var decoded events.Envelope
	require.NoError(t, json.Unmarshal(client.message, &decoded))
	require.Equal(t, env.ID, decoded.ID)
	require.Equal(t, events.NameChainRemoved, decoded.Name)

	client.err = errors.New("READONLY")
	require.ErrorContains(t, s.Publish(context.Background(), env), "READONLY")

	require.NoError(t, s.Close())
	require.True(t, client.closed)
}

func TestNewRedisSinkRequiresAddress(t *testing.T) {
	_, err := NewRedisSink(context.Background(), RedisConfig{})
	require.Error(t, err)
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQSinkRoutesByEventName(t *testing.T) {
	ch := &fakeChannel{}
	s := newRabbitMQSink(ch, "chainmgr.events", true)
	env, err := events.NewEnvelope(removedEvent())
	require.NoError(t, err)

	require.NoError(t, s.Publish(context.Background(), env))
	require.Equal(t, "chainmgr.events", ch.exchange)
	require.Equal(t, events.NameChainRemoved, ch.key)
	require.Equal(t, env.ID, ch.msg.MessageId)
	require.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	require.JSONEq(t, string(env.Payload), string(ch.msg.Body))

	require.NoError(t, s.Close())
	require.True(t, ch.closed)
}

func TestMySQLSinkJournalsEnvelope(t *testing.T) {
	// execs: schema_migrations, chain_events, migration record, two inserts.
	db, drv := newExecDB(t, nil, nil, nil, nil, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	ctx := context.Background()

	s, err := newMySQLSink(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 1, drv.commits)

	env, err := events.NewEnvelope(removedEvent())
	require.NoError(t, err)
	require.NoError(t, s.Publish(ctx, env))
	require.NoError(t, s.Publish(ctx, env))

	require.Len(t, drv.execs, 5)
	require.Contains(t, drv.execs[0], "CREATE TABLE IF NOT EXISTS schema_migrations")
	require.Contains(t, drv.execs[1], "CREATE TABLE IF NOT EXISTS chain_events")
	require.Contains(t, drv.execs[2], "INSERT INTO schema_migrations")
	require.Equal(t, "0001", drv.args[2][0])
	require.Equal(t, insertEventSQL, drv.execs[3])
	require.Equal(t, env.ID, drv.args[3][0])
	require.Equal(t, env.EmittedAt.UnixMilli(), drv.args[3][2])
	require.NoError(t, s.Close())
}

func TestMySQLSinkSkipsAppliedMigrations(t *testing.T) {
	db, drv := newExecDB(t)
	drv.applied = []string{"0001"}

	_, err := newMySQLSink(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, drv.execs, 1)
	require.Zero(t, drv.commits)
}

func TestMySQLSinkReportsWriteFailure(t *testing.T) {
	db, _ := newExecDB(t, nil, nil, nil, errors.New("table is read only"))
	ctx := context.Background()

	s, err := newMySQLSink(ctx, db)
	require.NoError(t, err)
	env, err := events.NewEnvelope(removedEvent())
	require.NoError(t, err)
	require.ErrorContains(t, s.Publish(ctx, env), "read only")
}

func TestReadMigrationsOrdersByVersion(t *testing.T) {
	files, err := readMigrations(fstest.MapFS{
		"0002_more.sql":  {Data: []byte("ALTER TABLE chain_events ADD COLUMN chain_id VARCHAR(66);")},
		"0001_init.sql":  {Data: []byte("CREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);")},
		"README.md":      {Data: []byte("not sql")},
		"0003_empty.sql": {Data: []byte("  ;  ")},
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "0001", files[0].version)
	require.Len(t, files[0].statements, 2)
	require.Equal(t, "0002", files[1].version)
}

// execDriver answers Exec calls in order with the configured errors, serves
// the applied migration versions and records every statement.
type execDriver struct {
	mu      sync.Mutex
	errs    []error
	applied []string
	execs   []string
	args    [][]any
	commits int
}

var driverSeq atomic.Int32

func newExecDB(t *testing.T, errs ...error) (*sql.DB, *execDriver) {
	t.Helper()
	drv := &execDriver{errs: errs}
	name := fmt.Sprintf("exec-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)
	db, err := sql.Open(name, "")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	return db, drv
}

func (d *execDriver) Open(string) (driver.Conn, error) { return &execConn{driver: d}, nil }

type execConn struct {
	driver *execDriver
}

func (c *execConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *execConn) Close() error { return nil }

func (c *execConn) Begin() (driver.Tx, error) { return execTx{driver: c.driver}, nil }

func (c *execConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	d := c.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := len(d.execs)
	values := make([]any, len(args))
	for i, a := range args {
		values[i] = a.Value
	}
	d.execs = append(d.execs, query)
	d.args = append(d.args, values)
	if idx < len(d.errs) && d.errs[idx] != nil {
		return nil, d.errs[idx]
	}
	return driver.RowsAffected(1), nil
}

func (c *execConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	c.driver.mu.Lock()
	defer c.driver.mu.Unlock()
	return &versionRows{values: append([]string(nil), c.driver.applied...)}, nil
}

type execTx struct {
	driver *execDriver
}

func (t execTx) Commit() error {
	t.driver.mu.Lock()
	t.driver.commits++
	t.driver.mu.Unlock()
	return nil
}

func (t execTx) Rollback() error { return nil }

type versionRows struct {
	values []string
}

func (r *versionRows) Columns() []string { return []string{"version"} }

func (r *versionRows) Close() error { return nil }

func (r *versionRows) Next(dest []driver.Value) error {
	if len(r.values) == 0 {
		return io.EOF
	}
	dest[0] = r.values[0]
	r.values = r.values[1:]
	return nil
}
