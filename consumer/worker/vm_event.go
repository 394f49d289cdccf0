package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-compute-service/entity"
	"github.com/tnqbao/gau-compute-service/infra"
	"github.com/tnqbao/gau-compute-service/infra/produce"
	"github.com/tnqbao/gau-compute-service/repository"
)

const vmEventQueue = "vm_event_audit"

// VMEventConsumer drains lifecycle events off the queue and appends them
// to the audit table.
type VMEventConsumer struct {
	channel *amqp.Channel
	infra   *infra.Infra
	repo    *repository.Repository
}

func NewVMEventConsumer(channel *amqp.Channel, infra *infra.Infra, repo *repository.Repository) *VMEventConsumer {
	return &VMEventConsumer{
		channel: channel,
		infra:   infra,
		repo:    repo,
	}
}

func (c *VMEventConsumer) Start(ctx context.Context) error {
	queue, err := c.channel.QueueDeclare(
		vmEventQueue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return err
	}

	err = c.channel.QueueBind(queue.Name, "vm.*", produce.VMEventExchange, false, nil)
	if err != nil {
		return err
	}

	deliveries, err := c.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		false,      // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				c.handle(ctx, delivery)
			}
		}
	}()

	c.infra.Logger.InfoWithContextf(ctx, "[VMEvent] Consumer started on queue: %s", queue.Name)
	return nil
}

func (c *VMEventConsumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var message produce.VMEventMessage
	if err := json.Unmarshal(delivery.Body, &message); err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[VMEvent] Failed to unmarshal message: %v", err)
		_ = delivery.Nack(false, false)
		return
	}

	vmID, err := uuid.Parse(message.VMID)
	if err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[VMEvent] Invalid vm_id '%s': %v", message.VMID, err)
		_ = delivery.Nack(false, false)
		return
	}

	event := &entity.VMEvent{
		VMID:       vmID,
		Event:      message.Event,
		Status:     message.Status,
		Detail:     message.Detail,
		OccurredAt: message.OccurredAt,
		CreatedAt:  time.Now().UTC(),
	}

	if err := c.repo.VMEventRepo.Create(ctx, event); err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[VMEvent] Failed to store event %s for %s: %v", message.Event, vmID, err)
		// Requeue so the event is not lost on a transient database error.
		_ = delivery.Nack(false, true)
		return
	}

	c.infra.Logger.InfoWithContextf(ctx, "[VMEvent] Recorded %s for %s", message.Event, vmID)
	_ = delivery.Ack(false)
}
