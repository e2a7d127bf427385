package gitlab

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes a webhook body into the payload type of kind and checks the
// fields its renderer depends on.
func Parse(kind Kind, body []byte) (Event, error) {
	var event Event

	switch kind {
	case KindPush:
		event = &PushEvent{}
	case KindTag:
		event = &TagEvent{}
	case KindRelease:
		event = &ReleaseEvent{}
	case KindIssue, KindConfidentialIssue:
		event = &IssueEvent{kind: kind}
	case KindNote, KindConfidentialNote:
		event = &NoteEvent{kind: kind}
	case KindMergeRequest:
		event = &MergeRequestEvent{}
	case KindJob:
		event = &JobEvent{}
	case KindWiki:
		event = &WikiEvent{}
	case KindPipeline:
		event = &PipelineEvent{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if err := json.Unmarshal(body, event); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, kind, err)
	}
	if err := validate.Struct(event); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, kind, err)
	}
	if err := checkLinks(event); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, kind, err)
	}

	return event, nil
}

// checkLinks enforces the URL fields that depend on the event kind rather
// than on the payload shape.
func checkLinks(event Event) error {
	switch e := event.(type) {
	case *TagEvent:
		if e.Project.WebURL == "" {
			return fmt.Errorf("project.web_url is required")
		}
	case *PipelineEvent:
		if e.Project.WebURL == "" {
			return fmt.Errorf("project.web_url is required")
		}
	case *NoteEvent:
		if e.Commit == nil && e.MergeRequest == nil && e.Issue == nil && e.Snippet == nil {
			return fmt.Errorf("note has no commit, merge_request, issue or snippet")
		}
	}
	return nil
}
