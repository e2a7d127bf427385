package render

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/user/gitlabbot/internal/gitlab"
)

// Render renders event at verbosity v. Messages use Telegram's HTML parse
// mode; every value taken from the payload is escaped.
func Render(event gitlab.Event, v Verbosity) (string, error) {
	switch e := event.(type) {
	case *gitlab.PushEvent:
		return Push(e, v), nil
	case *gitlab.TagEvent:
		return Tag(e, v), nil
	case *gitlab.ReleaseEvent:
		return Release(e, v), nil
	case *gitlab.IssueEvent:
		return Issue(e, v), nil
	case *gitlab.NoteEvent:
		return Note(e, v), nil
	case *gitlab.MergeRequestEvent:
		return MergeRequest(e, v), nil
	case *gitlab.JobEvent:
		return Job(e, v), nil
	case *gitlab.PipelineEvent:
		return Pipeline(e, v), nil
	case *gitlab.WikiEvent:
		return Wiki(e, v), nil
	default:
		return "", fmt.Errorf("no renderer for %T", event)
	}
}

// Push renders one block per commit.
func Push(e *gitlab.PushEvent, v Verbosity) string {
	blocks := make([]string, 0, len(e.Commits))
	for _, c := range e.Commits {
		m := newMessage("", "New commit on project", e.Project.Name)
		m.field("Author", c.Author.Name)
		if v == VerbosityFull {
			m.field("Message", strings.TrimRight(c.Message, "\n"))
		} else {
			m.field("Message", firstLine(c.Message))
		}
		if v >= VerbosityLinks {
			m.field("URL", c.URL)
		}
		blocks = append(blocks, m.String())
	}
	return strings.Join(blocks, "\n\n")
}

// Tag renders a tag push.
func Tag(e *gitlab.TagEvent, v Verbosity) string {
	m := newMessage("", "New tag event on project", e.Project.Name)
	if v >= VerbosityLinks {
		m.field("Tag", e.TagName())
		m.field("URL", e.URL())
	}
	return m.String()
}

// Release renders a release.
func Release(e *gitlab.ReleaseEvent, v Verbosity) string {
	m := newMessage("", "New release event on project", e.Project.Name)
	if v >= VerbosityLinks {
		m.field("Name", e.Name)
		m.field("Tag", e.Tag)
		m.field("Description", e.Description)
		m.field("URL", e.URL)
	}
	return m.String()
}

// Issue renders an issue, prefixed with a marker when it is confidential.
func Issue(e *gitlab.IssueEvent, v Verbosity) string {
	oa := e.ObjectAttributes
	m := newMessage(confidentialPrefix(e.Confidential()), "New issue event on project", e.Project.Name)
	m.field("Title", oa.Title)
	if v >= VerbosityFull && oa.Description != "" {
		m.field("Description", oa.Description)
	}
	m.field("State", oa.State)
	m.field("URL", oa.URL)
	if v >= VerbosityDetails {
		if names := userNames(e.Assignees); names != "" {
			m.field("Assignee(s)", names)
		}
		if labels := labelTitles(e.Labels); labels != "" {
			m.field("Labels", labels)
		}
		if oa.DueDate != nil && *oa.DueDate != "" {
			m.field("Due date", *oa.DueDate)
		}
	}
	return m.String()
}

// Note renders a comment. The target is the first of commit, merge request,
// issue and snippet present in the payload.
func Note(e *gitlab.NoteEvent, v Verbosity) string {
	var target, label, value string
	switch {
	case e.Commit != nil:
		target, label, value = "commit", "Commit", e.Commit.URL
	case e.MergeRequest != nil:
		target, label, value = "merge request", "Merge request", e.MergeRequest.Title
	case e.Issue != nil:
		target, label, value = "issue", "Issue", e.Issue.Title
	default:
		target, label = "snippet", "Snippet"
		if e.Snippet != nil {
			value = e.Snippet.Title
		}
	}

	m := newMessage(confidentialPrefix(e.Confidential()), "New note on "+target+" on project", e.Project.Name)
	m.field(label, value)
	m.field("Note", e.ObjectAttributes.Note)
	if v >= VerbosityLinks {
		m.field("URL", e.ObjectAttributes.URL)
	}
	return m.String()
}

// MergeRequest renders the body of a merge request notification.
func MergeRequest(e *gitlab.MergeRequestEvent, v Verbosity) string {
	oa := e.ObjectAttributes
	m := newMessage("", "New merge request event on project", e.Project.Name)
	m.field("Title", oa.Title)
	m.field("Source branch", oa.SourceBranch)
	m.field("Target branch", oa.TargetBranch)
	m.field("Merge status", oa.MergeStatus)
	m.field("State", oa.State)
	if v >= VerbosityDetails {
		if labels := labelTitles(e.Labels); labels != "" {
			m.field("Labels", labels)
		}
		if name := e.AssigneeName(); name != "" {
			m.field("Assignee", name)
		}
	}
	if v >= VerbosityLinks {
		m.field("URL", oa.URL)
	}
	return m.String()
}

// Job renders the body of a CI job notification.
func Job(e *gitlab.JobEvent, v Verbosity) string {
	m := newMessage("", "New job event on project", e.Repository.Name)
	m.field("Job status", e.BuildStatus)
	if e.BuildStatus == "failed" && e.BuildFailureReason != "" {
		m.field("Failure reason", e.BuildFailureReason)
	}
	if v >= VerbosityLinks {
		m.blank()
		m.field("Job name", e.BuildName)
		m.field("Job stage", e.BuildStage)
		m.field("URL", e.TrackingURL())
	}
	return m.String()
}

// Pipeline renders the body of a CI pipeline notification.
func Pipeline(e *gitlab.PipelineEvent, v Verbosity) string {
	oa := e.ObjectAttributes
	m := newMessage("", "New pipeline event on project", e.Project.Name)
	m.field("Pipeline status", oa.Status)
	if v >= VerbosityLinks {
		m.field("URL", e.TrackingURL())
	}
	if v >= VerbosityDetails {
		if oa.Ref != "" {
			m.field("Ref", oa.Ref)
		}
		if oa.Duration != nil {
			m.field("Duration", (time.Duration(*oa.Duration) * time.Second).String())
		}
	}
	return m.String()
}

// Wiki renders a wiki page event.
func Wiki(e *gitlab.WikiEvent, v Verbosity) string {
	m := newMessage("", "New wiki page event on project", e.Project.Name)
	if v >= VerbosityLinks {
		if e.ObjectAttributes.Title != "" {
			m.field("Page", e.ObjectAttributes.Title)
		}
		m.field("URL", e.Wiki.WebURL)
	}
	return m.String()
}

// message accumulates one rendered notification.
type message struct {
	b strings.Builder
}

func newMessage(prefix, header, project string) *message {
	m := &message{}
	m.b.WriteString(prefix)
	m.b.WriteString(header)
	m.b.WriteString(" <b>")
	m.b.WriteString(html.EscapeString(project))
	m.b.WriteString("</b>")
	return m
}

func (m *message) field(label, value string) {
	m.b.WriteString("\n<b>")
	m.b.WriteString(label)
	m.b.WriteString(":</b> ")
	m.b.WriteString(html.EscapeString(value))
}

func (m *message) blank() {
	m.b.WriteString("\n")
}

func (m *message) String() string {
	return m.b.String()
}

func confidentialPrefix(confidential bool) string {
	if confidential {
		return "[confidential] "
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimRight(line, "\r")
}

func userNames(users []gitlab.User) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		if u.Name != "" {
			names = append(names, u.Name)
		} else if u.Username != "" {
			names = append(names, u.Username)
		}
	}
	return strings.Join(names, ", ")
}

func labelTitles(labels []gitlab.Label) string {
	titles := make([]string, 0, len(labels))
	for _, l := range labels {
		titles = append(titles, l.Title)
	}
	return strings.Join(titles, ", ")
}
