package domain

import "time"

// Reason is the tagged failure classification carried by a DLQ envelope.
type Reason string

const (
	ReasonDeserialization Reason = "DESERIALIZATION"
	ReasonValidation      Reason = "VALIDATION"
	ReasonProcessing      Reason = "PROCESSING"
	ReasonDownstream      Reason = "DOWNSTREAM"
	ReasonTimeout         Reason = "TIMEOUT"
	ReasonUnknown         Reason = "UNKNOWN"
)

// ReasonForKind maps the error taxonomy onto DLQ reasons. This dispatch
// table is the single place where kinds become reasons; callsites never
// inspect error types or messages.
func ReasonForKind(k Kind) Reason {
	switch k {
	case KindDeserialization:
		return ReasonDeserialization
	case KindValidation:
		return ReasonValidation
	case KindTimeout:
		return ReasonTimeout
	case KindDownstreamTransient, KindDownstreamPermanent, KindCircuitOpen:
		return ReasonDownstream
	case KindInternal:
		return ReasonProcessing
	}
	return ReasonUnknown
}

// DLQEnvelope wraps a message that could not be processed. Payload preserves
// the original bytes losslessly; operators are the only consumers.
type DLQEnvelope struct {
	ID            string            `json:"id"`
	OriginalTopic string            `json:"original_topic"`
	Partition     int               `json:"partition"`
	Offset        int64             `json:"offset"`
	Key           string            `json:"key"`
	Payload       []byte            `json:"payload"` // base64 via encoding/json
	Service       string            `json:"service"`
	Reason        Reason            `json:"reason"`
	ErrorMessage  string            `json:"error_message"`
	Stack         string            `json:"stack,omitempty"`
	RetryCount    int               `json:"retry_count"`
	OriginalTS    time.Time         `json:"original_ts"`
	DLQTS         time.Time         `json:"dlq_ts"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
