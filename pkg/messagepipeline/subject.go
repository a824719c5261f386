package messagepipeline

import "strings"

// CorrelationIDHeader is the NATS header carrying the correlation ID stamped
// at the device socket, so one position can be traced across the TCP to
// broker boundary.
const CorrelationIDHeader = "Correlation-Id"

// SubjectFor maps a routing key onto the broker subject space rooted at
// root. The root plays the part of a topic exchange name: publishers write
// under it and consumers bind with a wildcard over it.
func SubjectFor(root, routingKey string) string {
	return root + "." + routingKey
}

// RoutingKeyFromSubject strips the subject root, returning the routing key
// the publisher used. The boolean is false when the subject does not belong
// to the given root.
func RoutingKeyFromSubject(root, subject string) (string, bool) {
	key, ok := strings.CutPrefix(subject, root+".")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// WildcardSubject returns the subscription subject matching every routing
// key published under root, the equivalent of a "#" binding on a topic
// exchange.
func WildcardSubject(root string) string {
	return root + ".>"
}
