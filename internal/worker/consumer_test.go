package worker

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobMessage(t *testing.T) {
	t.Run("valid body carries the delivery tag", func(t *testing.T) {
		msg, err := parseJobMessage(amqp.Delivery{
			Body:        []byte(`{"job_id":"7f9c24e5-27a7-4f3b-9d1b-222222222222"}`),
			DeliveryTag: 9,
		})
		require.NoError(t, err)
		assert.Equal(t, "7f9c24e5-27a7-4f3b-9d1b-222222222222", msg.JobID)
		assert.Equal(t, uint64(9), msg.DeliveryTag)
	})

	t.Run("malformed JSON is rejected", func(t *testing.T) {
		_, err := parseJobMessage(amqp.Delivery{Body: []byte(`{"job_id":`)})
		require.Error(t, err)
	})

	t.Run("job_id must be a UUID", func(t *testing.T) {
		_, err := parseJobMessage(amqp.Delivery{Body: []byte(`{"job_id":"not-a-uuid"}`)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a UUID")
	})
}
