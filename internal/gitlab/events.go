package gitlab

import (
	"strconv"
	"strings"
)

// Event is a decoded webhook payload. The set of implementations is closed:
// every payload type below is an Event and nothing else is.
type Event interface {
	Kind() Kind
	ProjectName() string
	isEvent()
}

// Trackable is an event with an external lifecycle identity whose
// notification is edited in place as its status changes.
type Trackable interface {
	Event
	TrackingID() int64
	TrackingStatus() string
	TrackingURL() string
}

// Project is the project block common to most payloads.
type Project struct {
	Name   string `json:"name" validate:"required"`
	WebURL string `json:"web_url"`
}

// User is a GitLab user reference.
type User struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Label is a GitLab label reference.
type Label struct {
	Title string `json:"title"`
}

// CommitInfo is one commit of a push.
type CommitInfo struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	URL     string `json:"url"`
	Author  struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"author"`
}

// PushEvent represents a push (commits) event.
type PushEvent struct {
	Ref      string       `json:"ref"`
	UserName string       `json:"user_name"`
	Project  Project      `json:"project"`
	Commits  []CommitInfo `json:"commits"`
}

// TagEvent represents a tag push event.
type TagEvent struct {
	Ref     string  `json:"ref" validate:"required"`
	Project Project `json:"project"`
}

// TagName returns the tag without its refs/tags/ prefix.
func (e *TagEvent) TagName() string {
	return strings.TrimPrefix(e.Ref, "refs/tags/")
}

// URL returns the tag page of the project.
func (e *TagEvent) URL() string {
	return e.Project.WebURL + "/-/tags/" + e.TagName()
}

// ReleaseEvent represents a release event.
type ReleaseEvent struct {
	Name        string  `json:"name"`
	Tag         string  `json:"tag" validate:"required"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	Action      string  `json:"action"`
	Project     Project `json:"project"`
}

// IssueEvent represents an issue event, confidential or not.
type IssueEvent struct {
	Project          Project `json:"project"`
	ObjectAttributes struct {
		IID          int64   `json:"iid"`
		Title        string  `json:"title" validate:"required"`
		Description  string  `json:"description"`
		State        string  `json:"state" validate:"required"`
		URL          string  `json:"url" validate:"required"`
		Confidential bool    `json:"confidential"`
		DueDate      *string `json:"due_date"`
		Action       string  `json:"action"`
	} `json:"object_attributes"`
	Assignees []User  `json:"assignees"`
	Labels    []Label `json:"labels"`

	kind Kind
}

// Confidential reports whether the issue is confidential.
func (e *IssueEvent) Confidential() bool {
	return e.ObjectAttributes.Confidential || e.kind == KindConfidentialIssue
}

// NoteEvent represents a comment on a commit, merge request, issue or snippet.
type NoteEvent struct {
	Project          Project `json:"project"`
	ObjectAttributes struct {
		Note         string `json:"note" validate:"required"`
		URL          string `json:"url"`
		Confidential bool   `json:"confidential"`
	} `json:"object_attributes"`
	Commit *struct {
		URL string `json:"url"`
	} `json:"commit"`
	MergeRequest *struct {
		Title string `json:"title"`
	} `json:"merge_request"`
	Issue *struct {
		Title string `json:"title"`
	} `json:"issue"`
	Snippet *struct {
		Title string `json:"title"`
	} `json:"snippet"`

	kind Kind
}

// Confidential reports whether the note is confidential.
func (e *NoteEvent) Confidential() bool {
	return e.ObjectAttributes.Confidential || e.kind == KindConfidentialNote
}

// MergeRequestEvent represents a merge request event.
type MergeRequestEvent struct {
	Project          Project `json:"project"`
	ObjectAttributes struct {
		IID          int64  `json:"iid" validate:"required"`
		Title        string `json:"title" validate:"required"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`
		MergeStatus  string `json:"merge_status"`
		State        string `json:"state" validate:"required"`
		URL          string `json:"url" validate:"required"`
	} `json:"object_attributes"`
	Labels    []Label `json:"labels"`
	Assignee  *User   `json:"assignee"`
	Assignees []User  `json:"assignees"`
}

// AssigneeName returns the username of the first assignee, if any.
func (e *MergeRequestEvent) AssigneeName() string {
	if e.Assignee != nil && e.Assignee.Username != "" {
		return e.Assignee.Username
	}
	for _, a := range e.Assignees {
		if a.Username != "" {
			return a.Username
		}
	}
	return ""
}

// JobEvent represents a CI job (build) event.
type JobEvent struct {
	BuildID            int64  `json:"build_id" validate:"required"`
	BuildName          string `json:"build_name"`
	BuildStage         string `json:"build_stage"`
	BuildStatus        string `json:"build_status" validate:"required"`
	BuildFailureReason string `json:"build_failure_reason"`
	Ref                string `json:"ref"`
	Repository         struct {
		Name     string `json:"name" validate:"required"`
		Homepage string `json:"homepage" validate:"required"`
	} `json:"repository"`
}

// PipelineEvent represents a CI pipeline event.
type PipelineEvent struct {
	Project          Project `json:"project"`
	ObjectAttributes struct {
		ID       int64    `json:"id" validate:"required"`
		Status   string   `json:"status" validate:"required"`
		Ref      string   `json:"ref"`
		Duration *float64 `json:"duration"`
	} `json:"object_attributes"`
}

// WikiEvent represents a wiki page event.
type WikiEvent struct {
	Project Project `json:"project"`
	Wiki    struct {
		WebURL string `json:"web_url"`
	} `json:"wiki"`
	ObjectAttributes struct {
		Title  string `json:"title"`
		Action string `json:"action"`
	} `json:"object_attributes"`
}

func (e *PushEvent) Kind() Kind         { return KindPush }
func (e *TagEvent) Kind() Kind          { return KindTag }
func (e *ReleaseEvent) Kind() Kind      { return KindRelease }
func (e *MergeRequestEvent) Kind() Kind { return KindMergeRequest }
func (e *JobEvent) Kind() Kind          { return KindJob }
func (e *PipelineEvent) Kind() Kind     { return KindPipeline }
func (e *WikiEvent) Kind() Kind         { return KindWiki }

func (e *IssueEvent) Kind() Kind {
	if e.kind == 0 {
		return KindIssue
	}
	return e.kind
}

func (e *NoteEvent) Kind() Kind {
	if e.kind == 0 {
		return KindNote
	}
	return e.kind
}

func (e *PushEvent) ProjectName() string         { return e.Project.Name }
func (e *TagEvent) ProjectName() string          { return e.Project.Name }
func (e *ReleaseEvent) ProjectName() string      { return e.Project.Name }
func (e *IssueEvent) ProjectName() string        { return e.Project.Name }
func (e *NoteEvent) ProjectName() string         { return e.Project.Name }
func (e *MergeRequestEvent) ProjectName() string { return e.Project.Name }
func (e *JobEvent) ProjectName() string          { return e.Repository.Name }
func (e *PipelineEvent) ProjectName() string     { return e.Project.Name }
func (e *WikiEvent) ProjectName() string         { return e.Project.Name }

func (*PushEvent) isEvent()         {}
func (*TagEvent) isEvent()          {}
func (*ReleaseEvent) isEvent()      {}
func (*IssueEvent) isEvent()        {}
func (*NoteEvent) isEvent()         {}
func (*MergeRequestEvent) isEvent() {}
func (*JobEvent) isEvent()          {}
func (*PipelineEvent) isEvent()     {}
func (*WikiEvent) isEvent()         {}

func (e *JobEvent) TrackingID() int64      { return e.BuildID }
func (e *JobEvent) TrackingStatus() string { return e.BuildStatus }
func (e *JobEvent) TrackingURL() string {
	return e.Repository.Homepage + "/-/jobs/" + strconv.FormatInt(e.BuildID, 10)
}

func (e *PipelineEvent) TrackingID() int64      { return e.ObjectAttributes.ID }
func (e *PipelineEvent) TrackingStatus() string { return e.ObjectAttributes.Status }
func (e *PipelineEvent) TrackingURL() string {
	return e.Project.WebURL + "/-/pipelines/" + strconv.FormatInt(e.ObjectAttributes.ID, 10)
}

func (e *MergeRequestEvent) TrackingID() int64      { return e.ObjectAttributes.IID }
func (e *MergeRequestEvent) TrackingStatus() string { return e.ObjectAttributes.State }
func (e *MergeRequestEvent) TrackingURL() string    { return e.ObjectAttributes.URL }
