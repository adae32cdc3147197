package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAgentRegistrationsIncrementsPerTeam(t *testing.T) {
	before := testutil.ToFloat64(AgentRegistrations.WithLabelValues("team:metrics-test"))
	AgentRegistrations.WithLabelValues("team:metrics-test").Inc()
	after := testutil.ToFloat64(AgentRegistrations.WithLabelValues("team:metrics-test"))
	assert.Equal(t, before+1, after)
}

func TestConnectedAgentsGaugeSetAndRead(t *testing.T) {
	ConnectedAgents.Set(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(ConnectedAgents))
}

func TestMessagesDroppedLabelsByReason(t *testing.T) {
	before := testutil.ToFloat64(MessagesDropped.WithLabelValues("no_recipient"))
	MessagesDropped.WithLabelValues("no_recipient").Inc()
	after := testutil.ToFloat64(MessagesDropped.WithLabelValues("no_recipient"))
	assert.Equal(t, before+1, after)
}
