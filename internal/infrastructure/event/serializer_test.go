package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSerializer_CostRequest(t *testing.T) {
	s := NewEventSerializer()
	recordID, locationID, itemID := uuid.New(), uuid.New(), uuid.New()
	usageDate := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	original := inventory.NewCostRecalculationRequestedEvent(recordID, locationID, itemID, usageDate)
	data, err := s.Serialize(original)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, inventory.EventTypeCostRecalculationRequested, env.Type)

	decoded, err := s.Deserialize(data)
	require.NoError(t, err)
	got, ok := decoded.(*inventory.CostRecalculationRequestedEvent)
	require.True(t, ok)
	assert.Equal(t, original.EventID(), got.EventID())
	assert.Equal(t, itemID, got.ItemID)
	assert.True(t, got.UsageDate.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)))
}

func TestEventSerializer_Errors(t *testing.T) {
	s := NewEventSerializer()
	assert.True(t, s.IsRegistered(inventory.EventTypeUsageRecordReversed))
	assert.False(t, s.IsRegistered("Unknown"))

	_, err := s.Deserialize([]byte(`{"type":"Unknown","payload":{}}`))
	assert.ErrorContains(t, err, "unknown event type")

	_, err = s.Deserialize([]byte(`not json`))
	assert.Error(t, err)

	s.Register("Test", &testEvent{})
	data, err := s.Serialize(newTestEvent("Test"))
	require.NoError(t, err)
	decoded, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, "test data", decoded.(*testEvent).Data)
}
