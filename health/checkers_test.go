package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/glimte/queue-manager-go/internal/rabbitmq"
)

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

type stubConsumer struct {
	state rabbitmq.State
}

func (s stubConsumer) State() rabbitmq.State { return s.state }
func (s stubConsumer) QueueName() string      { return "orders" }
func (s stubConsumer) ConsumerTag() string    { return "queue-manager-1" }

func TestPingChecker(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		p := &mockPinger{}
		p.On("Ping", mock.Anything).Return(true).Once()

		result := NewPingChecker("rabbitmq", p, time.Second).Check(context.Background())

		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "rabbitmq", result.Name)
		p.AssertExpectations(t)
	})

	t.Run("unreachable", func(t *testing.T) {
		p := &mockPinger{}
		p.On("Ping", mock.Anything).Return(false)

		result := NewPingChecker("rabbitmq", p, time.Second).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})

	t.Run("passes a bounded context", func(t *testing.T) {
		p := &mockPinger{}
		p.On("Ping", mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		})).Return(true)

		NewPingChecker("rabbitmq", p, time.Second).Check(context.Background())
		p.AssertExpectations(t)
	})
}

func TestConsumerChecker(t *testing.T) {
	tests := []struct {
		state rabbitmq.State
		want  Status
	}{
		{rabbitmq.StateConsuming, StatusHealthy},
		{rabbitmq.StateDisconnected, StatusDegraded},
		{rabbitmq.StateConnecting, StatusDegraded},
		{rabbitmq.StateDeclaring, StatusDegraded},
		{rabbitmq.StateClosing, StatusUnhealthy},
		{rabbitmq.StateStopped, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			result := NewConsumerChecker("consumer", stubConsumer{state: tt.state}).Check(context.Background())

			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.state.String(), result.Details["state"])
			assert.Equal(t, "orders", result.Details["queue"])
		})
	}
}
