package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/itiky/chatsync/storage"
)

type (
	// KafkaSink republishes session change events to a Kafka topic.
	// Events are queued by Handle and sent by the worker in the order received,
	// a full queue drops events (the snapshot stays the source of truth).
	KafkaSink struct {
		// Config
		producer    sarama.SyncProducer
		topic       string
		sessionKey  string
		maxRetry    int
		baseBackoff time.Duration
		maxBackoff  time.Duration
		// State
		queue   chan storage.ChangeEvent
		dropped atomic.Int64
		//
		stopCh chan struct{}
		doneCh chan struct{}
	}

	KafkaSinkOptions struct {
		QueueSize   int
		MaxRetry    int
		BaseBackoff time.Duration
		MaxBackoff  time.Duration
	}

	// Envelope is the published message value.
	Envelope struct {
		Session string              `json:"session"`
		Event   storage.ChangeEvent `json:"event"`
		SentAt  time.Time           `json:"sentAt"`
	}
)

// Handle enqueues the event, the signature matches the session listener.
func (s *KafkaSink) Handle(event storage.ChangeEvent) {
	select {
	case s.queue <- event:
	default:
		if s.dropped.Add(1)%100 == 1 {
			log.Printf("KafkaSink (%s): queue is full, events dropped: %d", s.sessionKey, s.dropped.Load())
		}
	}
}

// Dropped returns the number of events dropped due to the queue overflow.
func (s *KafkaSink) Dropped() int64 {
	return s.dropped.Load()
}

// Start starts the KafkaSink worker.
func (s *KafkaSink) Start() {
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.worker()
}

// Stop stops the KafkaSink worker sending the queued events first.
func (s *KafkaSink) Stop() {
	if s.stopCh == nil {
		return
	}

	close(s.stopCh)
	<-s.doneCh
}

// worker does the actual job.
func (s *KafkaSink) worker() {
	defer close(s.doneCh)

	for {
		select {
		case event := <-s.queue:
			s.sendWithRetry(event)
		case <-s.stopCh:
			// Drain the queue
			for {
				select {
				case event := <-s.queue:
					s.sendWithRetry(event)
				default:
					return
				}
			}
		}
	}
}

func (s *KafkaSink) sendWithRetry(event storage.ChangeEvent) {
	for attempt := 0; attempt <= s.maxRetry; attempt++ {
		err := s.sendOnce(event)
		if err == nil {
			return
		}

		if attempt == s.maxRetry {
			log.Printf("KafkaSink (%s): send failed, event dropped (%s): %v", s.sessionKey, event.Kind, err)
			return
		}

		backoff := s.baseBackoff * time.Duration(1<<attempt)
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (s *KafkaSink) sendOnce(event storage.ChangeEvent) error {
	value, err := json.Marshal(Envelope{
		Session: s.sessionKey,
		Event:   event,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	// Session key keeps the session events in a single partition (ordered)
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(s.sessionKey),
		Value: sarama.ByteEncoder(value),
	})

	return err
}

// NewKafkaProducer creates a sarama.SyncProducer with the settings KafkaSink relies on.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%s: empty", "brokers")
	}

	cfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	return sarama.NewSyncProducer(brokers, cfg)
}

// NewKafkaSink creates a new KafkaSink object.
func NewKafkaSink(producer sarama.SyncProducer, topic, sessionKey string, opts KafkaSinkOptions) (*KafkaSink, error) {
	if producer == nil {
		return nil, fmt.Errorf("%s: nil", "producer")
	}
	if topic == "" {
		return nil, fmt.Errorf("%s: empty", "topic")
	}
	if opts.QueueSize <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "QueueSize")
	}
	if opts.MaxRetry < 0 {
		return nil, fmt.Errorf("%s: must be GTE 0", "MaxRetry")
	}

	return &KafkaSink{
		producer:    producer,
		topic:       topic,
		sessionKey:  sessionKey,
		maxRetry:    opts.MaxRetry,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		queue:       make(chan storage.ChangeEvent, opts.QueueSize),
	}, nil
}
