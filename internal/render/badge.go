package render

import (
	"errors"
	"fmt"
)

// ErrUnknownStatus is returned for a status with no badge.
var ErrUnknownStatus = errors.New("unknown status")

// badges maps job, pipeline and merge request statuses to badge labels.
var badges = map[string]string{
	// jobs and pipelines
	"created":              "🆕 Created",
	"waiting_for_resource": "⏳ Waiting for resource",
	"preparing":            "⏳ Preparing",
	"pending":              "⏳ Pending",
	"running":              "🔄 Running",
	"success":              "✅ Success",
	"failed":               "❌ Failed",
	"canceling":            "🚫 Canceling",
	"canceled":             "🚫 Canceled",
	"skipped":              "⏭ Skipped",
	"manual":               "✋ Manual",
	"scheduled":            "🕒 Scheduled",
	// merge requests
	"opened": "🔀 Opened",
	"closed": "❌ Closed",
	"merged": "🎊 Merged",
	"locked": "🔒 Locked",
}

// Badge returns the badge label for status.
func Badge(status string) (string, error) {
	if label, ok := badges[status]; ok {
		return label, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, status)
}
