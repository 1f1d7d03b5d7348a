package alertsink

import (
	"sync"

	"github.com/IBM/sarama"

	"github.com/rtkjbillo/wazuh"
)

// KafkaSink is an alternate transport to the default named-pipe sink,
// for deployments that route alerts through a broker instead of the
// vendor message queue. Framing is identical (spec.md §6); the topic
// stands in for the queue path.
type KafkaSink struct {
	Brokers []string
	Topic   string

	mu       sync.Mutex
	producer sarama.SyncProducer
}

// NewKafkaSink dials brokers and returns a ready KafkaSink.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	s := &KafkaSink{Brokers: brokers, Topic: topic}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KafkaSink) open() error {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(s.Brokers, cfg)
	if err != nil {
		return wazuh.NewError("alertsink.KafkaSink.open", wazuh.ErrQueueFatal, "dialing brokers", err)
	}
	s.producer = p
	return nil
}

// Send publishes one framed alert, keyed by agent+CVE so every alert for
// one (agent, CVE) pair lands on the same partition. On failure it reopens the
// producer once and retries, matching FileSink's semantics.
func (s *KafkaSink) Send(a Alert, priority Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := frame(a, priority)
	if err != nil {
		return err
	}
	key := a.AgentID + ":" + a.CveID

	send := func() error {
		_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
			Topic: s.Topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(msg),
		})
		return err
	}

	if err := send(); err != nil {
		s.producer.Close()
		if rerr := s.open(); rerr != nil {
			return rerr
		}
		if err := send(); err != nil {
			return wazuh.NewError("alertsink.KafkaSink.Send", wazuh.ErrQueueFatal, "send failed after reopen", err)
		}
	}
	return nil
}

// Close releases the underlying producer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producer == nil {
		return nil
	}
	return s.producer.Close()
}
