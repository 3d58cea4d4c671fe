package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"strata/internal/logging"
)

// saramaBroker adapts the sarama client library to the Broker contract. It
// carries no retry policy of its own; the supervisor owns that.
type saramaBroker struct {
	cfg Config
}

// NewSaramaBroker is the "sarama" driver factory.
func NewSaramaBroker(cfg Config) (Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, &FatalError{Op: "sarama", Err: errors.New("no bootstrap brokers configured")}
	}
	return &saramaBroker{cfg: cfg}, nil
}

func (b *saramaBroker) Connect(ctx context.Context, cred Credential) (Conn, error) {
	sc, err := b.saramaConfig(cred)
	if err != nil {
		return nil, &FatalError{Op: "sarama", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cl, err := sarama.NewClient(b.cfg.Brokers, sc)
	if err != nil {
		return nil, classifySarama("connect", err)
	}
	cons, err := sarama.NewConsumerFromClient(cl)
	if err != nil {
		_ = cl.Close()
		return nil, classifySarama("consumer", err)
	}
	logging.L().Debug("sarama session opened", "client_id", sc.ClientID, "brokers", b.cfg.Brokers)
	return &saramaConn{cl: cl, cons: cons, streams: map[TopicPartition]*partitionStream{}}, nil
}

func (b *saramaBroker) saramaConfig(cred Credential) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(b.cfg.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = fmt.Sprintf("%s-%s", b.cfg.ClientID, uuid.NewString()[:8])
	sc.Consumer.Return.Errors = true
	if b.cfg.SessionTimeout > 0 {
		sc.Consumer.Group.Session.Timeout = b.cfg.SessionTimeout
	}
	if b.cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}

	switch b.cfg.SASL.Mechanism {
	case "":
	case MechanismPlain:
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User, sc.Net.SASL.Password = b.cfg.SASL.User, b.cfg.SASL.Password
	case MechanismGSSAPI:
		user, realm := splitPrincipal(cred.Principal)
		if b.cfg.SASL.Realm != "" {
			realm = b.cfg.SASL.Realm
		}
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypeGSSAPI
		sc.Net.SASL.GSSAPI = sarama.GSSAPIConfig{
			AuthType:           sarama.KRB5_KEYTAB_AUTH,
			KeyTabPath:         cred.KeytabPath,
			KerberosConfigPath: b.cfg.SASL.Krb5Config,
			ServiceName:        b.cfg.SASL.ServiceName,
			Username:           user,
			Realm:              realm,
		}
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism %q", b.cfg.SASL.Mechanism)
	}
	return sc, nil
}

func splitPrincipal(p string) (user, realm string) {
	if i := strings.IndexByte(p, '@'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return p, ""
}

func classifySarama(op string, err error) error {
	switch {
	case errors.Is(err, sarama.ErrOutOfBrokers),
		errors.Is(err, sarama.ErrBrokerNotAvailable),
		errors.Is(err, sarama.ErrLeaderNotAvailable),
		errors.Is(err, sarama.ErrNetworkException),
		errors.Is(err, sarama.ErrRequestTimedOut):
		return &TransientError{Op: op, Err: err}
	case errors.Is(err, sarama.ErrSASLAuthenticationFailed):
		return &AuthenticationError{Err: err}
	}
	var ce sarama.ConfigurationError
	if errors.As(err, &ce) {
		return &FatalError{Op: op, Err: err}
	}
	var ke sarama.KError
	if errors.As(err, &ke) {
		// Remaining broker-side codes are protocol-level, not retryable.
		return &FatalError{Op: op, Err: err}
	}
	// Plain network resets surface as *net.OpError and the like; let the
	// supervisor retry those.
	return &TransientError{Op: op, Err: err}
}

type partitionStream struct {
	pc   sarama.PartitionConsumer
	next int64
}

// saramaConn is one authenticated session. Fetch is called by a single poll
// loop; stream bookkeeping is guarded for Close racing a fetch.
type saramaConn struct {
	cl   sarama.Client
	cons sarama.Consumer

	mu      sync.Mutex
	streams map[TopicPartition]*partitionStream
	closed  bool
}

func (c *saramaConn) Partitions(topic string) ([]int32, error) {
	parts, err := c.cons.Partitions(topic)
	if err != nil {
		return nil, classifySarama("partitions", err)
	}
	return parts, nil
}

func (c *saramaConn) OldestOffset(tp TopicPartition) (int64, error) {
	off, err := c.cl.GetOffset(tp.Topic, tp.Partition, sarama.OffsetOldest)
	if err != nil {
		return 0, classifySarama("oldest-offset", err)
	}
	return off, nil
}

func (c *saramaConn) NewestOffset(tp TopicPartition) (int64, error) {
	off, err := c.cl.GetOffset(tp.Topic, tp.Partition, sarama.OffsetNewest)
	if err != nil {
		return 0, classifySarama("newest-offset", err)
	}
	return off, nil
}

func (c *saramaConn) stream(tp TopicPartition, offset int64) (*partitionStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &FatalError{Op: "fetch", Err: errors.New("connection closed")}
	}
	if ps, ok := c.streams[tp]; ok {
		if ps.next == offset {
			return ps, nil
		}
		// Caller rewound or jumped; restart the partition consumer there.
		_ = ps.pc.Close()
		delete(c.streams, tp)
	}
	pc, err := c.cons.ConsumePartition(tp.Topic, tp.Partition, offset)
	if err != nil {
		return nil, classifySarama("consume-partition", err)
	}
	ps := &partitionStream{pc: pc, next: offset}
	c.streams[tp] = ps
	return ps, nil
}

func (c *saramaConn) dropStream(tp TopicPartition) {
	c.mu.Lock()
	if ps, ok := c.streams[tp]; ok {
		_ = ps.pc.Close()
		delete(c.streams, tp)
	}
	c.mu.Unlock()
}

func (c *saramaConn) Fetch(ctx context.Context, tp TopicPartition, offset int64, wait time.Duration) (Message, error) {
	ps, err := c.stream(tp, offset)
	if err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-timer.C:
		return Message{}, ErrNoMessage
	case kerr, ok := <-ps.pc.Errors():
		c.dropStream(tp)
		if !ok {
			return Message{}, &TransientError{Op: "fetch", Err: errors.New("partition stream closed")}
		}
		return Message{}, classifySarama("fetch", kerr.Err)
	case msg, ok := <-ps.pc.Messages():
		if !ok {
			c.dropStream(tp)
			return Message{}, &TransientError{Op: "fetch", Err: errors.New("partition stream closed")}
		}
		ps.next = msg.Offset + 1
		return Message{
			TP:        TopicPartition{Topic: msg.Topic, Partition: msg.Partition},
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Timestamp: msg.Timestamp,
		}, nil
	}
}

func (c *saramaConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for tp, ps := range c.streams {
		_ = ps.pc.Close()
		delete(c.streams, tp)
	}
	c.mu.Unlock()

	_ = c.cons.Close()
	return c.cl.Close()
}
