package gatewayio

import "encoding/json"

// DeliveryOpcode distinguishes the two commands the router accepts off
// gateway.send, mirroring original_source/src/models.rs's DeliveryOpcode.
type DeliveryOpcode int

const (
	DeliveryOpSend      DeliveryOpcode = 0
	DeliveryOpReconnect DeliveryOpcode = 1
)

// DeliveryInfo is the decoded body of a gateway.send message.
type DeliveryInfo struct {
	Op    DeliveryOpcode  `json:"op"`
	Shard int             `json:"shard"`
	Data  json.RawMessage `json:"data,omitempty"`
}
