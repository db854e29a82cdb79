package security

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("RESUME_CHAT_TEST_REGION", "eu-west")

	labels, err := ParseMetricsLabels("service=resume-chat,region=${RESUME_CHAT_TEST_REGION}")
	require.NoError(t, err)
	require.Equal(t, prometheus.Labels{"service": "resume-chat", "region": "eu-west"}, labels)

	labels, err = ParseMetricsLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)

	_, err = ParseMetricsLabels("service")
	require.ErrorContains(t, err, "expected key=value")

	_, err = ParseMetricsLabels("9lives=x")
	require.ErrorContains(t, err, "invalid label key")
}
