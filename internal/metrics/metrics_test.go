package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWebhook_Counts(t *testing.T) {
	before := testutil.ToFloat64(webhooks.WithLabelValues("Job Hook", OutcomeOK))
	Webhook("Job Hook", OutcomeOK)
	assert.Equal(t, before+1, testutil.ToFloat64(webhooks.WithLabelValues("Job Hook", OutcomeOK)))

	beforeUnknown := testutil.ToFloat64(webhooks.WithLabelValues("unknown", OutcomeUnauthorized))
	Webhook("", OutcomeUnauthorized)
	assert.Equal(t, beforeUnknown+1, testutil.ToFloat64(webhooks.WithLabelValues("unknown", OutcomeUnauthorized)))
}

func TestNotification_ResultLabel(t *testing.T) {
	ok := notifications.WithLabelValues("Push Hook", ActionSend, "ok")
	failed := notifications.WithLabelValues("Push Hook", ActionSend, "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	Notification("Push Hook", ActionSend, nil)
	Notification("Push Hook", ActionSend, errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}
