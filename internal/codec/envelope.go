// Package codec implements the canonical binary encoding of the trade
// envelope used on the trades log. The format is protobuf wire format with
// fixed field numbers, written and read directly with encoding/protowire so
// the byte layout is deterministic and versionable without generated code.
// Unknown fields are skipped on decode, allowing forward-compatible
// additions.
package codec

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// Field numbers are frozen; never reuse a retired number.
const (
	fieldExecID        = 1
	fieldSymbol        = 2
	fieldQuantity      = 3
	fieldPriceMantissa = 4
	fieldSide          = 5
	fieldExecTS        = 6
	fieldOrderID       = 7
	fieldClientOrderID = 8
	fieldTraderID      = 9
	fieldAccount       = 10
	fieldExchange      = 11
	fieldGatewayID     = 12
	fieldReceiveTS     = 13
	fieldRawBytes      = 14
)

// EncodeEnvelope serializes t into the canonical wire form. Fields with zero
// values are omitted, matching protobuf semantics.
func EncodeEnvelope(t *domain.TradeEnvelope) []byte {
	b := make([]byte, 0, 128+len(t.RawBytes))

	b = appendString(b, fieldExecID, t.ExecID)
	b = appendString(b, fieldSymbol, t.Symbol)
	b = appendInt64(b, fieldQuantity, t.Quantity)
	b = appendInt64(b, fieldPriceMantissa, t.PriceMantissa)
	b = appendString(b, fieldSide, string(t.Side))
	b = appendTime(b, fieldExecTS, t.ExecTS)
	b = appendString(b, fieldOrderID, t.OrderID)
	b = appendString(b, fieldClientOrderID, t.ClientOrderID)
	b = appendString(b, fieldTraderID, t.TraderID)
	b = appendString(b, fieldAccount, t.Account)
	b = appendString(b, fieldExchange, t.Exchange)
	b = appendString(b, fieldGatewayID, t.GatewayID)
	b = appendTime(b, fieldReceiveTS, t.ReceiveTS)
	if len(t.RawBytes) > 0 {
		b = protowire.AppendTag(b, fieldRawBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawBytes)
	}
	return b
}

// DecodeEnvelope parses the canonical wire form. Malformed input returns a
// KindDeserialization error so consumers route the record to the DLQ with
// the right reason.
func DecodeEnvelope(data []byte) (*domain.TradeEnvelope, error) {
	var t domain.TradeEnvelope

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, domain.Classifyf(domain.KindDeserialization,
				"envelope: tag: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, domain.Classifyf(domain.KindDeserialization,
					"envelope: field %d: %v", num, protowire.ParseError(m))
			}
			data = data[m:]
			switch num {
			case fieldExecID:
				t.ExecID = string(v)
			case fieldSymbol:
				t.Symbol = string(v)
			case fieldSide:
				t.Side = domain.Side(v)
			case fieldOrderID:
				t.OrderID = string(v)
			case fieldClientOrderID:
				t.ClientOrderID = string(v)
			case fieldTraderID:
				t.TraderID = string(v)
			case fieldAccount:
				t.Account = string(v)
			case fieldExchange:
				t.Exchange = string(v)
			case fieldGatewayID:
				t.GatewayID = string(v)
			case fieldRawBytes:
				raw := make([]byte, len(v))
				copy(raw, v)
				t.RawBytes = raw
			}
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, domain.Classifyf(domain.KindDeserialization,
					"envelope: field %d: %v", num, protowire.ParseError(m))
			}
			data = data[m:]
			switch num {
			case fieldQuantity:
				t.Quantity = int64(v)
			case fieldPriceMantissa:
				t.PriceMantissa = int64(v)
			case fieldExecTS:
				t.ExecTS = time.Unix(0, int64(v)).UTC()
			case fieldReceiveTS:
				t.ReceiveTS = time.Unix(0, int64(v)).UTC()
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, domain.Classifyf(domain.KindDeserialization,
					"envelope: field %d: %v", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}

	if t.ExecID == "" {
		return nil, domain.Classifyf(domain.KindDeserialization,
			"envelope: missing exec_id")
	}
	return &t, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendTime(b []byte, num protowire.Number, ts time.Time) []byte {
	if ts.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(ts.UnixNano()))
}
