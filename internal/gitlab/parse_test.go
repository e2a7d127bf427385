package gitlab

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobPayload = `{
  "object_kind": "build",
  "ref": "main",
  "build_id": 42,
  "build_name": "test",
  "build_stage": "test",
  "build_status": "running",
  "build_failure_reason": "unknown_failure",
  "repository": {"name": "backend", "homepage": "https://gitlab.example.com/team/backend"}
}`

const issuePayload = `{
  "object_kind": "issue",
  "project": {"name": "backend", "web_url": "https://gitlab.example.com/team/backend"},
  "object_attributes": {
    "iid": 7, "title": "Broken <build>", "description": "secret", "state": "opened",
    "url": "https://gitlab.example.com/team/backend/-/issues/7", "confidential": true, "due_date": null
  },
  "assignees": [{"name": "Ada", "username": "ada"}],
  "labels": [{"title": "bug"}]
}`

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Confidential Note Hook")
	require.NoError(t, err)
	assert.Equal(t, KindConfidentialNote, k)
	assert.True(t, k.Confidential())
	assert.Equal(t, "Confidential Note Hook", k.String())

	_, err = ParseKind("Deployment Hook")
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, err = ParseKind("push hook")
	assert.Error(t, err, "kind matching is case-sensitive")
}

func TestParse_Job(t *testing.T) {
	ev, err := Parse(KindJob, []byte(jobPayload))
	require.NoError(t, err)

	job, ok := ev.(*JobEvent)
	require.True(t, ok)
	assert.Equal(t, int64(42), job.TrackingID())
	assert.Equal(t, "running", job.TrackingStatus())
	assert.Equal(t, "https://gitlab.example.com/team/backend/-/jobs/42", job.TrackingURL())
	assert.Equal(t, "backend", job.ProjectName())

	var _ Trackable = job
}

func TestParse_ConfidentialVariantsShareType(t *testing.T) {
	public, err := Parse(KindIssue, []byte(issuePayload))
	require.NoError(t, err)
	confidential, err := Parse(KindConfidentialIssue, []byte(issuePayload))
	require.NoError(t, err)

	assert.IsType(t, &IssueEvent{}, public)
	assert.IsType(t, &IssueEvent{}, confidential)
	assert.Equal(t, KindIssue, public.Kind())
	assert.Equal(t, KindConfidentialIssue, confidential.Kind())

	issue := public.(*IssueEvent)
	assert.True(t, issue.Confidential(), "flag comes from the payload")
	assert.Nil(t, issue.ObjectAttributes.DueDate)
}

func TestParse_Malformed(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		body string
	}{
		{"invalid json", KindPush, `{"project":`},
		{"job without id", KindJob, `{"build_status":"running","repository":{"name":"x","homepage":"h"}}`},
		{"job without status", KindJob, `{"build_id":1,"repository":{"name":"x","homepage":"h"}}`},
		{"issue without title", KindIssue, `{"project":{"name":"p"},"object_attributes":{"state":"opened","url":"u"}}`},
		{"push without project", KindPush, `{"commits":[]}`},
		{"pipeline without web url", KindPipeline, `{"project":{"name":"p"},"object_attributes":{"id":3,"status":"running"}}`},
		{"note without target", KindNote, `{"project":{"name":"p"},"object_attributes":{"note":"hi"}}`},
		{"merge request without iid", KindMergeRequest, `{"project":{"name":"p"},"object_attributes":{"title":"t","state":"opened","url":"u"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.kind, []byte(tc.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedPayload), "got %v", err)
		})
	}
}

func TestParse_TagAndPipelineURLs(t *testing.T) {
	ev, err := Parse(KindTag, []byte(`{"ref":"refs/tags/v1.2.0","project":{"name":"p","web_url":"https://g/p"}}`))
	require.NoError(t, err)
	tag := ev.(*TagEvent)
	assert.Equal(t, "v1.2.0", tag.TagName())
	assert.Equal(t, "https://g/p/-/tags/v1.2.0", tag.URL())

	ev, err = Parse(KindPipeline, []byte(`{"project":{"name":"p","web_url":"https://g/p"},"object_attributes":{"id":9,"status":"pending"}}`))
	require.NoError(t, err)
	p := ev.(Trackable)
	assert.Equal(t, "https://g/p/-/pipelines/9", p.TrackingURL())
	assert.Equal(t, "pending", p.TrackingStatus())
}

func TestMergeRequest_AssigneeName(t *testing.T) {
	mr := &MergeRequestEvent{Assignees: []User{{Username: "bob"}}}
	assert.Equal(t, "bob", mr.AssigneeName())

	mr.Assignee = &User{Username: "ada"}
	assert.Equal(t, "ada", mr.AssigneeName())

	assert.Equal(t, "", (&MergeRequestEvent{}).AssigneeName())
}
