package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

func sampleEnvelope() *domain.TradeEnvelope {
	return &domain.TradeEnvelope{
		ExecID:        "E-20260310-000042",
		Symbol:        "AAPL",
		Quantity:      100,
		PriceMantissa: 15025000000,
		Side:          domain.SideBuy,
		ExecTS:        time.Date(2026, 3, 10, 19, 59, 58, 123456789, time.UTC),
		OrderID:       "O-9/17",
		ClientOrderID: "C-1",
		TraderID:      "T001",
		Account:       "ARB-01",
		Exchange:      "NSDQ",
		GatewayID:     "gw-east-2",
		ReceiveTS:     time.Date(2026, 3, 10, 19, 59, 58, 500000000, time.UTC),
		RawBytes:      []byte("8=FIX.4.2\x019=178\x0135=8\x01"),
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	in := sampleEnvelope()
	out, err := DecodeEnvelope(EncodeEnvelope(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEnvelopeRawBytesPreserved(t *testing.T) {
	in := sampleEnvelope()
	in.RawBytes = []byte{0x00, 0xff, 0x01, 0x80, 0x7f}
	out, err := DecodeEnvelope(EncodeEnvelope(in))
	require.NoError(t, err)
	assert.Equal(t, in.RawBytes, out.RawBytes)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"truncated tag":   {0x82},
		"truncated bytes": {0x0a, 0x10, 'a', 'b'},
		"empty input":     {},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope(data)
			require.Error(t, err)
			assert.Equal(t, domain.KindDeserialization, domain.KindOf(err))
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	in := sampleEnvelope()
	data := EncodeEnvelope(in)
	// Append an unknown varint field (number 60).
	data = append(data, 0xe0, 0x03, 0x2a)
	out, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, in.ExecID, out.ExecID)
}

func TestEncodeDeterministic(t *testing.T) {
	in := sampleEnvelope()
	assert.Equal(t, EncodeEnvelope(in), EncodeEnvelope(in))
}
