package proto

import "github.com/invopop/jsonschema"

// Catalog lists every payload so that one schema document covers the
// protocol. Each property is named after the envelope type tag.
type Catalog struct {
	Envelope     Envelope     `json:"envelope" jsonschema:"description=Outer frame wrapping every payload"`
	Join         Join         `json:"join"`
	TokenMoved   TokenMoved   `json:"token_moved" jsonschema:"description=Committed token position"`
	TokenUpdated TokenUpdated `json:"token_updated"`
	TokenCreated TokenCreated `json:"token_created"`
	TokenRemoved TokenRemoved `json:"token_removed"`
	Snapshot     Snapshot     `json:"snapshot" jsonschema:"description=Room state sent to a joining client"`
	Error        Error        `json:"error"`
}

// Schema reflects the protocol catalog into a JSON Schema document.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(Catalog))
	schema.Title = "VTT token sync protocol"
	schema.Description = "Websocket frames exchanged between tabletop clients and the room relay"
	return schema
}
