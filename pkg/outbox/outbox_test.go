package outbox

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailtmpl/mailtmpl/pkg/config"
	"github.com/mailtmpl/mailtmpl/pkg/mail"
	"github.com/mailtmpl/mailtmpl/pkg/templates"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	messages []kafka.Message
	pos      int
	closed   bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if r.pos >= len(r.messages) {
		// Simulate a blocked reader whose context gets cancelled.
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.messages[r.pos]
	r.pos++
	return m, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type recordingSender struct {
	subjects []string
	bodies   []string
}

func (s *recordingSender) Send(_ context.Context, msg *mail.Message) (int, error) {
	s.subjects = append(s.subjects, msg.Subject)
	s.bodies = append(s.bodies, msg.Body)
	return 1, nil
}

func (s *recordingSender) GetHost() string { return "fake.example.com" }
func (s *recordingSender) GetPort() int    { return 25 }

func testStore(t *testing.T) *templates.Store {
	t.Helper()
	store, err := templates.Load(fstest.MapFS{
		"welcome.tmpl": &fstest.MapFile{Data: []byte(
			`{{define "subject"}}Welcome, {{.Name}}!{{end}}
{{define "body"}}Hello {{.Name}}.{{end}}`)},
	})
	require.NoError(t, err)
	return store
}

func TestPublishAndConsumeRoundTrip(t *testing.T) {
	store := testStore(t)
	writer := &fakeWriter{}
	pub := &Publisher{writer: writer, topic: "mail-outbox", log: zap.NewNop().Sugar()}

	msg, err := mail.NewMessage(store, "welcome.tmpl", map[string]any{"Name": "Ada"},
		mail.WithTo("ada@example.com"))
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), msg))
	require.Len(t, writer.messages, 1)
	assert.NotEmpty(t, writer.messages[0].Key)
	require.Len(t, writer.messages[0].Headers, 1)
	assert.Equal(t, "template", writer.messages[0].Headers[0].Key)
	assert.Equal(t, "welcome.tmpl", string(writer.messages[0].Headers[0].Value))

	sender := &recordingSender{}
	consumer := &Consumer{
		reader: &fakeReader{messages: writer.messages},
		topic:  "mail-outbox",
		store:  store,
		sender: sender,
		log:    zap.NewNop().Sugar(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let the consumer drain the fake reader, then unblock it.
		cancel()
	}()
	require.NoError(t, consumer.Run(ctx))

	require.Len(t, sender.subjects, 1)
	assert.Equal(t, "Welcome, Ada!", sender.subjects[0])
	assert.Equal(t, "Hello Ada.", sender.bodies[0])
}

func TestPublishWriteFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	pub := &Publisher{writer: writer, topic: "mail-outbox", log: zap.NewNop().Sugar()}

	msg, err := mail.NewMessage(testStore(t), "welcome.tmpl", nil)
	require.NoError(t, err)

	err = pub.Publish(context.Background(), msg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
}

func TestConsumerSkipsUndecodableMessages(t *testing.T) {
	sender := &recordingSender{}
	consumer := &Consumer{
		reader: &fakeReader{messages: []kafka.Message{
			{Value: []byte("not json")},
		}},
		topic:  "mail-outbox",
		store:  testStore(t),
		sender: sender,
		log:    zap.NewNop().Sugar(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()
	require.NoError(t, consumer.Run(ctx))
	assert.Empty(t, sender.subjects)
}

func TestConsumerSkipsUnknownTemplates(t *testing.T) {
	store := testStore(t)
	writer := &fakeWriter{}
	pub := &Publisher{writer: writer, topic: "mail-outbox", log: zap.NewNop().Sugar()}

	msg, err := mail.NewMessage(store, "welcome.tmpl", nil, mail.WithTo("ada@example.com"))
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), msg))

	// Consumer side has no templates, so rebinding must fail.
	empty, err := templates.Load(fstest.MapFS{})
	require.NoError(t, err)

	sender := &recordingSender{}
	consumer := &Consumer{
		reader: &fakeReader{messages: writer.messages},
		topic:  "mail-outbox",
		store:  empty,
		sender: sender,
		log:    zap.NewNop().Sugar(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()
	require.NoError(t, consumer.Run(ctx))
	assert.Empty(t, sender.subjects)
}

func TestNewPublisherValidation(t *testing.T) {
	log := zap.NewNop().Sugar()

	_, err := NewPublisher(config.Outbox{Topic: "t"}, log)
	assert.Error(t, err)

	_, err = NewPublisher(config.Outbox{Brokers: []string{"b:9092"}}, log)
	assert.Error(t, err)

	pub, err := NewPublisher(config.Outbox{
		Brokers: []string{"b:9092"},
		Topic:   "mail-outbox",
	}, log)
	require.NoError(t, err)
	assert.NoError(t, pub.Close())
}

func TestNewConsumerValidation(t *testing.T) {
	log := zap.NewNop().Sugar()
	store := testStore(t)

	_, err := NewConsumer(config.Outbox{Topic: "t"}, store, &recordingSender{}, log)
	assert.Error(t, err)

	_, err = NewConsumer(config.Outbox{Brokers: []string{"b:9092"}}, store, &recordingSender{}, log)
	assert.Error(t, err)
}

func TestBuildSASLMechanism(t *testing.T) {
	m, err := buildSASLMechanism(config.OutboxSASL{
		Mechanism: "PLAIN",
		Username:  "u",
		Password:  "p",
	})
	require.NoError(t, err)
	assert.Equal(t, plain.Mechanism{Username: "u", Password: "p"}, m)

	for _, mech := range []string{"SCRAM-SHA-256", "SCRAM-SHA-512"} {
		m, err := buildSASLMechanism(config.OutboxSASL{Mechanism: mech, Username: "u", Password: "p"})
		require.NoError(t, err)
		assert.NotNil(t, m)
	}

	_, err = buildSASLMechanism(config.OutboxSASL{Mechanism: "GSSAPI"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "GSSAPI")
}
