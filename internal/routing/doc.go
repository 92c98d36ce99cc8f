// Package routing decides which destination host an inbound LI message is
// relayed to.
//
// # Overview
//
// The route table is a static, ordered list of rules loaded once from a CSV
// file at startup. Each rule names a message type, a message type version
// and a recipient, and the destination host that messages matching those
// three values are sent to.
//
// # Matching
//
// A rule matches a RoutingCriteria tuple when, for each of the three fields,
// the rule holds the wildcard "*" or exactly the same (case-sensitive) value
// as the criteria. An empty rule field matches an empty criteria field. The
// table is scanned top to bottom and the first matching rule wins, so rule
// order in the file is significant:
//
//	messageType,messageTypeVersion,recipient,destination
//	300,3.5,0080,hostA
//	*,*,0080,hostB
//	*,*,*,fallback
//
// With this table a ReceiptConfirmationMessage (type 300, version 3.5) for
// recipient 0080 goes to hostA, any other message for 0080 goes to hostB and
// everything else to fallback.
//
// # No destination
//
// A criteria tuple that matches no rule is not an error here. ResolveDestination
// reports it as ("", false) and the caller answers the sender with a NACK.
// No host state is touched, since there is no host to attribute the miss to.
//
// # Concurrency
//
// The table is immutable after construction and ResolveDestination is safe
// for unbounded concurrent use. Hit counters are updated atomically.
package routing
