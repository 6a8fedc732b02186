package events

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysync/internal/felt"
	"paysync/internal/model"
)

func TestSelectors(t *testing.T) {
	sel := Selectors()
	require.Len(t, sel, 2)
	assert.Equal(t, felt.Hex(felt.Selector("PaymentCreated")), sel[NamePaymentCreated])
	assert.Equal(t, felt.Hex(felt.Selector("PaymentCompleted")), sel[NamePaymentCompleted])
}

func TestDecodePaymentCreated(t *testing.T) {
	raw := model.RawEvent{
		Keys: []string{Selectors()[NamePaymentCreated], "0x2a", "0x1", "0x111", "0x222"},
		Data: []string{"0x1388", "0x0", "0xabc123", "0x65f0a000"},
	}

	event, err := Decode(raw)
	require.NoError(t, err)
	created, ok := event.(*PaymentCreated)
	require.True(t, ok, "got %T", event)

	want := new(big.Int).Lsh(big.NewInt(1), 128)
	want.Add(want, big.NewInt(42))
	assert.Equal(t, 0, created.PaymentID.Cmp(want))
	assert.Equal(t, int64(5000), created.Amount.Int64())
	assert.Equal(t, "0xabc123", created.MetadataID)
	assert.Equal(t, "0x111", created.Merchant)
	assert.Equal(t, "0x222", created.Customer)
	assert.Equal(t, uint64(0x65f0a000), created.Timestamp)
	assert.Equal(t, KindPaymentCreated, event.Kind())
}

func TestDecodePaymentCompleted(t *testing.T) {
	raw := model.RawEvent{
		Keys: []string{Selectors()[NamePaymentCompleted], "0x2a", "0x0", "0x111"},
		Data: []string{"0x1356", "0x0", "0x32", "0x0", "0x65f0a000"},
	}

	event, err := Decode(raw)
	require.NoError(t, err)
	completed, ok := event.(*PaymentCompleted)
	require.True(t, ok, "got %T", event)
	assert.Equal(t, "42", completed.PaymentID.String())
	assert.Equal(t, int64(4950), completed.AmountToMerchant.Int64())
	assert.Equal(t, int64(50), completed.Fee.Int64())
	assert.Equal(t, uint64(0x65f0a000), completed.Timestamp)
}

func TestDecodeSelectorWithLeadingZeros(t *testing.T) {
	padded := "0x000" + Selectors()[NamePaymentCompleted][2:]
	event, err := Decode(model.RawEvent{
		Keys: []string{padded, "0x2a", "0x0"},
		Data: []string{"0x1", "0x0", "0x0", "0x0"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindPaymentCompleted, event.Kind())
}

func TestDecodeUnknown(t *testing.T) {
	event, err := Decode(model.RawEvent{})
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, event.Kind())

	transfer := felt.Hex(felt.Selector("Transfer"))
	event, err = Decode(model.RawEvent{Keys: []string{transfer}})
	require.NoError(t, err)
	unknown, ok := event.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, transfer, unknown.Selector)
}

func TestDecodeMalformed(t *testing.T) {
	created := Selectors()[NamePaymentCreated]
	completed := Selectors()[NamePaymentCompleted]
	tooBig := felt.Hex(new(big.Int).Lsh(big.NewInt(1), 128))

	tests := []struct {
		name string
		raw  model.RawEvent
	}{
		{"bad selector", model.RawEvent{Keys: []string{"0xzz"}}},
		{"created missing keys", model.RawEvent{Keys: []string{created, "0x1"}, Data: []string{"0x1", "0x0", "abc"}}},
		{"created missing data", model.RawEvent{Keys: []string{created, "0x1", "0x0"}, Data: []string{"0x1", "0x0"}}},
		{"created id half too big", model.RawEvent{Keys: []string{created, tooBig, "0x0"}, Data: []string{"0x1", "0x0", "abc"}}},
		{"created bad amount", model.RawEvent{Keys: []string{created, "0x1", "0x0"}, Data: []string{"nope", "0x0", "abc"}}},
		{"completed missing fee", model.RawEvent{Keys: []string{completed, "0x1", "0x0"}, Data: []string{"0x1", "0x0", "0x0"}}},
		{"completed bad timestamp", model.RawEvent{Keys: []string{completed, "0x1", "0x0"}, Data: []string{"0x1", "0x0", "0x0", "0x0", tooBig}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			require.Error(t, err)
		})
	}
}
