package kinesis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderPlacedImage(id string) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"id":             events.NewStringAttribute(id),
		"aggregate_id":   events.NewStringAttribute("order-1"),
		"aggregate_type": events.NewStringAttribute("Order"),
		"event_type":     events.NewStringAttribute("OrderPlaced"),
		"data":           events.NewStringAttribute(`{"order_number":"ORD-3F2A91BC"}`),
		"created_at":     events.NewStringAttribute(time.Now().UTC().Format(time.RFC3339Nano)),
		"version":        events.NewNumberAttribute("1"),
	}
}

func TestConvertImage(t *testing.T) {
	event, err := convertImage(orderPlacedImage("event-1"))
	require.NoError(t, err)
	assert.Equal(t, "event-1", event.ID)
	assert.Equal(t, "order-1", event.AggregateID)
	assert.Equal(t, "Order", event.AggregateType)
	assert.Equal(t, "OrderPlaced", event.EventType)
	assert.Equal(t, 1, event.Version)
	assert.JSONEq(t, `{"order_number":"ORD-3F2A91BC"}`, string(event.Data))
}

func TestConvertImageRejectsIncomplete(t *testing.T) {
	_, err := convertImage(nil)
	assert.Error(t, err)

	_, err = convertImage(map[string]events.DynamoDBAttributeValue{
		"id": events.NewStringAttribute("event-1"),
	})
	assert.Error(t, err)
}

func TestConvertFromDynamoDBStreamRecordSkipsNonInsert(t *testing.T) {
	for _, name := range []string{"MODIFY", "REMOVE"} {
		event, err := ConvertFromDynamoDBStreamRecord(events.DynamoDBEventRecord{EventName: name})
		require.NoError(t, err)
		assert.Nil(t, event)
	}

	event, err := ConvertFromDynamoDBStreamRecord(events.DynamoDBEventRecord{
		EventName: "INSERT",
		Change:    events.DynamoDBStreamRecord{NewImage: orderPlacedImage("event-2")},
	})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "event-2", event.ID)
}

func TestBatchConvertFromKinesisEvent(t *testing.T) {
	insert, err := json.Marshal(events.DynamoDBEventRecord{
		EventName: "INSERT",
		Change:    events.DynamoDBStreamRecord{NewImage: orderPlacedImage("event-3")},
	})
	require.NoError(t, err)
	modify, err := json.Marshal(events.DynamoDBEventRecord{EventName: "MODIFY"})
	require.NoError(t, err)

	eventList, errs := BatchConvertFromKinesisEvent(events.KinesisEvent{
		Records: []events.KinesisEventRecord{
			{EventID: "1", Kinesis: events.KinesisRecord{Data: insert}},
			{EventID: "2", Kinesis: events.KinesisRecord{Data: modify}},
			{EventID: "3", Kinesis: events.KinesisRecord{Data: []byte("not json")}},
		},
	})

	require.Len(t, eventList, 1)
	assert.Equal(t, "event-3", eventList[0].ID)
	assert.Len(t, errs, 1)
}
