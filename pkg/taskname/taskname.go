package taskname

// Task types
const (
	EarningsCycle   = "earnings:cycle"
	OrderValidation = "order:validate"
	OrderExpiry     = "order:expire"
	QueueCleanup    = "maintenance:queue:cleanup"
)

// Queues. Each one is served by its own worker with its own concurrency.
const (
	QueueEarnings    = "earnings"
	QueueValidation  = "validation"
	QueueMaintenance = "maintenance"
)

// ValidationTaskID is the dedup key for an order's outstanding validation job.
func ValidationTaskID(orderID string) string {
	return "validation-" + orderID
}
