// Package webhook holds the delivery service's domain model and the signature
// contract shared by the sender and receivers.
//
// # Signature scheme
//
// Every delivery carries
//
//	X-Signature: t=<unix seconds>,v1=<lowercase hex HMAC-SHA256>
//
// where the MAC is computed with the endpoint secret over the string
// "<t>." followed by the exact request body. Receivers recompute the MAC,
// compare it in constant time, and reject timestamps older than their replay
// window (DefaultTolerance unless configured otherwise).
//
// # Reference receiver
//
// Receiver is a small chi server that verifies deliveries the same way a
// customer integration should. It backs `blazehooks receive` and the
// end-to-end tests of the delivery worker.
//
//	rcv := webhook.NewReceiver(webhook.ReceiverConfig{
//		Listen: "127.0.0.1:9000",
//		Path:   "/hooks",
//		Secret: os.Getenv("BLAZEHOOKS_SECRET"),
//	}, handle, logger)
//	if err := rcv.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package webhook
