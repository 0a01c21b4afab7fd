// ABOUTME: Wire types for gateway flip rule submissions.
// ABOUTME: A flip rule exposes or withdraws one channel across the multimaster boundary.

package flip

// Direction says which way traffic flows on a flipped channel relative
// to the agent: inbound rules expose a command channel the remote side
// publishes into, outbound rules expose a status channel the agent
// publishes out of.
type Direction string

const (
	DirectionInbound  Direction = "subscriber"
	DirectionOutbound Direction = "publisher"
)

// Rule describes one channel to expose or withdraw.
type Rule struct {
	Name      string    `json:"name"`      // resource path, e.g. /services/turtlesim/kobuki/cmd_vel
	Direction Direction `json:"direction"` // subscriber or publisher
	Node      string    `json:"node"`      // node filter, empty matches any
}

// RemoteRule pairs a rule with the remote identity it is flipped to.
// The herder always uses the agent's own name as the remote gateway.
type RemoteRule struct {
	Gateway string `json:"gateway"`
	Rule    Rule   `json:"rule"`
}

// Request is one flip submission. Cancel false announces the rules,
// Cancel true withdraws them. Both rules for an agent always travel in
// a single request.
type Request struct {
	Cancel  bool         `json:"cancel"`
	Remotes []RemoteRule `json:"remotes"`
}
