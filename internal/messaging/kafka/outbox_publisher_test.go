package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

func TestOutboxTopicPublisher_PublishesOrderSnapshots(t *testing.T) {
	producer, mock := testProducer(t)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-1" {
			return errors.New("events must be keyed by order id")
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != domain.EventTypeOrderStatusChanged {
			return errors.New("missing event type header")
		}
		value, _ := msg.Value.Encode()
		var envelope OutboxEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		var event domain.OrderEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return err
		}
		if event.Order.Version != 2 {
			return errors.New("snapshot version lost")
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, "")
	msg, err := domain.NewOrderEventMessage(domain.EventTypeOrderStatusChanged, domain.Order{ID: "order-1", Status: "received", Version: 2}, domain.RoleStaff, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	msg.ID = "outbox-1"
	if err := publisher.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mock.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxTopicPublisher_SkipsAlerts(t *testing.T) {
	producer, mock := testProducer(t)
	publisher := NewOutboxPublisher(producer, "")

	alert, err := domain.NewReadyAlertMessage(domain.ReadyAlert{OrderID: "order-1", CustomerID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if err := publisher.Publish(context.Background(), alert); err != nil {
		t.Fatalf("alerts are not published to the order topic: %v", err)
	}
	if err := mock.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDeadLetterPublisher_PublishesEverything(t *testing.T) {
	producer, mock := testProducer(t)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetter {
			return errors.New("unexpected topic " + msg.Topic)
		}
		return nil
	})

	publisher := NewDeadLetterPublisher(producer, "")
	alert, _ := domain.NewReadyAlertMessage(domain.ReadyAlert{OrderID: "order-1"})
	if err := publisher.Publish(context.Background(), alert); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mock.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxTopicPublisher_NotInitialized(t *testing.T) {
	var publisher *OutboxTopicPublisher
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{}); err == nil {
		t.Fatal("expected error for nil publisher")
	}
}
