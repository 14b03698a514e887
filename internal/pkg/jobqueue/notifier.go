package jobqueue

import (
	"fmt"

	"github.com/stacksgate/stacksgate/app/models"
	"github.com/stacksgate/stacksgate/internal/pkg/webhooks"
)

// QueueNotifier schedules webhook deliveries for payment intent status
// changes by enqueuing jobs instead of POSTing inline. Implements
// payments.Notifier.
type QueueNotifier struct {
	queue *Queue
}

// NewQueueNotifier creates a notifier backed by the given queue
func NewQueueNotifier(queue *Queue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// NotifyStatusChange freezes the intent into an event and enqueues a
// delivery job for it
func (n *QueueNotifier) NotifyStatusChange(intent *models.PaymentIntent) error {
	event := webhooks.NewPaymentIntentEvent(intent)

	payload := WebhookDeliveryPayload{
		MerchantID:      intent.MerchantID,
		PaymentIntentID: intent.ID,
		Event:           event,
	}

	if _, err := n.queue.EnqueueJob(JobTypeWebhookDelivery, payload.ToMap()); err != nil {
		return fmt.Errorf("failed to enqueue webhook delivery for %s: %w", intent.ID, err)
	}
	return nil
}
