package bus

import "github.com/fentz26/cfagents/internal/models"

// detach returns a copy of msg whose payload and metadata share no maps or
// slices with the original.
func detach(msg models.Message) models.Message {
	msg.Payload = cloneMap(msg.Payload)
	msg.Metadata = cloneMap(msg.Metadata)
	return msg
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return v
	}
}
