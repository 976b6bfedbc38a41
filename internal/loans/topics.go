package loans

const (
	TopicReservationNotified = "reservation.notified"
)

// Partition key = item_id, so queue events for one item keep their order.
func PartitionKey(itemID string) []byte { return []byte(itemID) }
