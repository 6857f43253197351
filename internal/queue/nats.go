package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"signoff/internal/common"
)

const (
	DefaultNatsAckWaitDuration    time.Duration = 300 * time.Second
	DefaultNatsMaxAckPendingCount int           = 64
	DefaultNatsMaxMessageCount    int64         = 1024
	DefaultNatsMaxSizeBytes       int64         = 1024 * 1024 * 128
	DefaultNatsPublishTimeout     time.Duration = 5 * time.Second
)

func getNatsQueueInfo(opts QueueOpts) (stream, subject string) {
	stream = strings.ToLower(opts.Stream)
	subject = fmt.Sprintf("%s.%s", stream, strings.ToLower(opts.Subject))
	return
}

type NewNatsOpts struct {
	// Addr contains the hostname:port address of the NATS instance
	Addr string

	// Username defines the username to use when authenticating with NATS
	Username string

	// Password defines the password to use when authenticating with NATS
	Password string

	// NKey takes precedence over the `Username` and `Password`
	// fields; when this is specified, the standard credentials
	// are ignored in favour of using this `NKey`
	NKey string

	ServiceLogs chan<- common.ServiceLog
}

func NewNats(opts NewNatsOpts) (*Nats, error) {
	serviceLogs := opts.ServiceLogs
	if serviceLogs == nil {
		serviceLogs = common.GetNoopServiceLog()
	}
	natsOpts := []nats.Option{}
	if opts.NKey != "" {
		keyPair, err := nkeys.FromSeed([]byte(opts.NKey))
		if err != nil {
			return nil, fmt.Errorf("failed to generate keypair from nkey: %w", err)
		}
		publicKey, err := keyPair.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate public key from nkey: %w", err)
		}
		natsOpts = append(natsOpts, nats.Nkey(publicKey, keyPair.Sign))
	} else if opts.Username != "" && opts.Password != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}
	return &Nats{
		Addr:        opts.Addr,
		ServiceLogs: serviceLogs,
		options:     natsOpts,
	}, nil
}

type Nats struct {
	Addr        string
	Client      *nats.Conn
	ServiceLogs chan<- common.ServiceLog

	options       []nats.Option
	streamContext nats.JetStreamContext
}

func (n *Nats) Connect() error {
	var err error
	n.Client, err = nats.Connect("nats://"+n.Addr, n.options...)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	if !n.Client.IsConnected() {
		return fmt.Errorf("failed to verify connection")
	}
	n.streamContext, err = n.Client.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get jetstream context: %w", err)
	}
	return nil
}

func (n *Nats) Close() error {
	if err := n.Client.Drain(); err != nil {
		return fmt.Errorf("failed to drain connection[%s]: %w", n.Client.ConnectedAddr(), err)
	}
	n.Client.Close()
	return nil
}

func (n *Nats) Ping() error {
	if err := n.ensureNats(); err != nil {
		return err
	}
	if !n.Client.IsConnected() {
		return fmt.Errorf("failed to verify nats connection")
	}
	return nil
}

func (n *Nats) Push(opts PushOpts) (*PushOutput, error) {
	if err := n.ensureNats(); err != nil {
		return nil, fmt.Errorf("failed to validate nats setup: %w", err)
	}
	_, subject := getNatsQueueInfo(opts.Queue)
	if err := n.ensureStream(opts.Queue); err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultNatsPublishTimeout)
	defer cancel()
	if _, err := n.streamContext.Publish(subject, opts.Data, nats.Context(ctx)); err != nil {
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}
	return &PushOutput{
		MessageSizeBytes: len(opts.Data),
		Queue:            opts.Queue,
	}, nil
}

func (n *Nats) Subscribe(opts SubscribeOpts) error {
	if err := n.ensureNats(); err != nil {
		return fmt.Errorf("failed to validate nats setup: %w", err)
	}

	stream, subject := getNatsQueueInfo(opts.Queue)
	if err := n.ensureStream(opts.Queue); err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	if err := n.ensureDurable(opts.ConsumerId, stream, subject); err != nil {
		return err
	}

	sub, err := n.streamContext.PullSubscribe(
		subject,
		opts.ConsumerId,
		nats.Bind(stream, opts.ConsumerId),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.ServiceLogs <- common.ServiceLogf(common.LogLevelDebug, "nats subscription created: durable=%s stream=%s subject=%s", opts.ConsumerId, stream, subject)

	nakBackoff := 10 * time.Second
	if opts.NakBackoff != 0 {
		nakBackoff = opts.NakBackoff
	}

	for {
		select {
		case <-opts.Context.Done():
			n.ServiceLogs <- common.ServiceLogf(common.LogLevelDebug, "nats subscription stopping: durable=%s stream=%s subject=%s", opts.ConsumerId, stream, subject)
			return opts.Context.Err()
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			// timeout means no messages, keep polling
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return fmt.Errorf("fetch: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}

		msg := msgs[0]
		if err := opts.Handler(opts.Context, Message{
			Data:    msg.Data,
			Subject: msg.Subject,
		}); err != nil {
			n.ServiceLogs <- common.ServiceLogf(common.LogLevelWarn, "nats message handling failed, sending nak with delay[%v]: %s", nakBackoff, err)
			_ = msg.NakWithDelay(nakBackoff)
			continue
		}
		if err := msg.Ack(); err != nil {
			return fmt.Errorf("failed to ack: %w", err)
		}
	}
}

func (n *Nats) ensureNats() error {
	errs := []error{}
	if n.Client == nil {
		errs = append(errs, ErrorClientUndefined)
	}
	if n.streamContext == nil {
		errs = append(errs, ErrorStreamingClientUndefined)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (n *Nats) ensureDurable(durable, stream, subject string) error {
	ci, err := n.streamContext.ConsumerInfo(stream, durable)
	if err == nil && ci != nil {
		if ci.Config.FilterSubject != subject {
			return fmt.Errorf("failed to ensure durable subject association: have=%q want=%q", ci.Config.FilterSubject, subject)
		}
		return nil
	}

	_, err = n.streamContext.AddConsumer(stream, &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       DefaultNatsAckWaitDuration,
		MaxAckPending: DefaultNatsMaxAckPendingCount,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return fmt.Errorf("failed to add consumer: %w", err)
	}
	return nil
}

func (n *Nats) ensureStream(queueInfo QueueOpts) error {
	stream, subject := getNatsQueueInfo(queueInfo)
	if streamInfo, err := n.streamContext.StreamInfo(stream); err == nil && streamInfo != nil {
		cfg := streamInfo.Config
		if !isSubjectInSubjects(cfg.Subjects, subject) {
			cfg.Subjects = append(cfg.Subjects, subject)
			if _, err := n.streamContext.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("failed to update stream[%s:%s]: %w", stream, subject, err)
			}
		}
		return nil
	}

	cfg := &nats.StreamConfig{
		NoAck:     false,
		Name:      stream,
		Subjects:  []string{subject},
		Replicas:  1,
		Retention: nats.WorkQueuePolicy,
		MaxMsgs:   DefaultNatsMaxMessageCount,
		MaxBytes:  DefaultNatsMaxSizeBytes,
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}
	if _, err := n.streamContext.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to add stream[%s:%s]: %w", stream, subject, err)
	}
	return nil
}

func isSubjectInSubjects(subjects []string, target string) bool {
	for _, s := range subjects {
		if s == target {
			return true
		}
	}
	return false
}
