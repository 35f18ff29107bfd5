package delivery

import (
	"context"
	"fmt"
	"strings"
)

// RoutingNotifier dispatches a Send to one of several underlying Notifiers
// based on the scheme prefix of the subscriber's address (e.g.
// "discord:123456" or "slack:C0123"), so a single deployment can serve
// subscribers on whichever chat platform they registered through.
type RoutingNotifier struct {
	routes map[string]Notifier
}

// NewRoutingNotifier builds a RoutingNotifier from a scheme-to-Notifier
// map. A nil entry for a scheme is treated as "not configured".
func NewRoutingNotifier(routes map[string]Notifier) *RoutingNotifier {
	live := make(map[string]Notifier, len(routes))
	for scheme, n := range routes {
		if n != nil {
			live[scheme] = n
		}
	}
	return &RoutingNotifier{routes: live}
}

// Send parses the "<scheme>:<destination>" address, strips the scheme, and
// forwards the destination-only address to the matching Notifier. An
// address with no recognized scheme, or naming a scheme this deployment
// has no Notifier for, is a permanent failure: retrying will never help.
func (r *RoutingNotifier) Send(ctx context.Context, address, subject, body string) SendResult {
	scheme, destination, ok := strings.Cut(address, ":")
	if !ok {
		return SendResult{Outcome: PermanentOutcome, Err: fmt.Errorf("address %q has no notifier scheme", address)}
	}

	notifier, ok := r.routes[scheme]
	if !ok {
		return SendResult{Outcome: PermanentOutcome, Err: fmt.Errorf("no notifier configured for scheme %q", scheme)}
	}

	return notifier.Send(ctx, destination, subject, body)
}
