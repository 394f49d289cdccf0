package produce

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-compute-service/entity"
)

const VMEventExchange = "vm_event_exchange"

// Routing keys for VM lifecycle events. Consumers bind with "vm.*".
const (
	EventVMCreated            = "vm.created"
	EventVMCreateFailed       = "vm.create_failed"
	EventVMProvisionAmbiguous = "vm.provision_ambiguous"
	EventVMDeleted            = "vm.deleted"
)

type VMEventMessage struct {
	VMID       string    `json:"vm_id"`
	Event      string    `json:"event"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type VMService struct {
	channel *amqp.Channel
}

func InitVMService(channel *amqp.Channel) *VMService {
	err := channel.ExchangeDeclare(
		VMEventExchange, // name
		"topic",         // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		log.Printf("Failed to declare VM event exchange: %v", err)
		return nil
	}

	return &VMService{
		channel: channel,
	}
}

func (s *VMService) PublishLifecycleEvent(ctx context.Context, event string, vm *entity.VM, detail string) error {
	message := VMEventMessage{
		VMID:       vm.ID.String(),
		Event:      event,
		Status:     string(vm.Status),
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal vm event message: %w", err)
	}

	err = s.channel.PublishWithContext(
		ctx,
		VMEventExchange, // exchange
		event,           // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish vm event message: %w", err)
	}

	return nil
}
