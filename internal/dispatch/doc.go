// Package dispatch fans a domain event out to the endpoints that want it.
//
// Publish renders the request body once, looks up the tenant's active
// endpoints subscribed to the event, and enqueues one delivery job per
// endpoint. Nothing is sent over the network here; the delivery worker picks
// the jobs up from the queue.
//
// Behaviour:
//   - No subscribers is not an error; Publish returns an empty id list.
//   - An empty event name or data that is not valid JSON is a validation error.
//   - If enqueueing fails for one endpoint the others are still enqueued and
//     the first error is returned with the ids that made it.
package dispatch
