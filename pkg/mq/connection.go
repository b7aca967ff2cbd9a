package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "events"

	// connectionPrefix 出现在 RabbitMQ 管理界面的连接名里
	connectionPrefix = "notifyhub"
	heartbeat        = 10 * time.Second
)

func connectionName(role string) string {
	return connectionPrefix + "." + role
}

func dialConfig(name string) amqp091.Config {
	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName(name)
	return amqp091.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	}
}

// NewConnection dials RabbitMQ with a named connection, e.g. "notifyhub.publisher".
func NewConnection(url, role string) (*amqp091.Connection, error) {
	name := connectionName(role)
	conn, err := amqp091.DialConfig(url, dialConfig(name))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ as %s: %w", name, err)
	}
	return conn, nil
}

// DeclareTopology 声明事件 exchange 和死信 exchange，两者都是 durable topic
func DeclareTopology(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeName, err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fmt.Errorf("declare %s: %w", DLQExchangeName, err)
	}
	return nil
}
