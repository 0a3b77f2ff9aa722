package model

import (
	"fmt"
	"net"
)

// Address is an IP address (v4 or v6) and a port.
type Address struct {
	IP   net.IP
	Port uint16
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP.String(), a.Port)
}

// Equal compares two addresses by normalized IP and port.
func (a Address) Equal(other Address) bool {
	return a.IP.Equal(other.IP) && a.Port == other.Port
}

// Node is a (Key, Address) pair. Equality is by Key only — two records for
// the same key at different addresses are "the same node" for the purposes
// of the neighbour store and search engine, and both keep the first record
// they saw for a key, ignoring later ones with a different address.
type Node struct {
	Key     Key
	Address Address
}

// Equal reports whether two nodes carry the same key.
func (n Node) Equal(other Node) bool { return n.Key.Equal(other.Key) }

// SenderNode is a (Key, port) pair as carried inside request payloads. The
// IP is deliberately not part of this type: spec section 3 requires that a
// peer's own address is never trusted from the payload during daemon-to-
// daemon traffic, only the port. Resolve combines it with the IP inferred
// from the connection to produce a full Node.
type SenderNode struct {
	Key  Key
	Port uint16
}

// Resolve combines the declared key and port with an IP taken from the
// transport connection to produce the full sender Node.
func (s SenderNode) Resolve(ip net.IP) Node {
	return Node{Key: s.Key, Address: Address{IP: ip, Port: s.Port}}
}

// SenderOf reduces a Node to the SenderNode form carried on the wire,
// dropping the IP since the peer on the other end must infer it from the
// connection rather than trust it from the payload.
func SenderOf(n Node) SenderNode {
	return SenderNode{Key: n.Key, Port: n.Address.Port}
}
