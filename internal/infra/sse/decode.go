package sse

import "encoding/json"

func decodeEnvelope(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}
