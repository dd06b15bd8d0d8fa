package domain

// Provider webhook event types.
const (
	EventTransactionCreated   = "transaction.created"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventAccountCreated       = "account.created"
	EventCardCreated          = "card.created"
	EventIdentityUpdated      = "identity.updated"
)

// SubscribedEventTypes is the set requested when registering a webhook.
var SubscribedEventTypes = []string{
	EventTransactionCreated,
	EventTransactionCompleted,
	EventTransactionFailed,
	EventAccountCreated,
	EventCardCreated,
	EventIdentityUpdated,
}
