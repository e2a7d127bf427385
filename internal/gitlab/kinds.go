// Package gitlab handles GitLab webhook deliveries: source authorization,
// event kind routing and payload decoding.
package gitlab

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned for a token that matches no configured source.
	ErrUnauthorized = errors.New("unauthorized source")
	// ErrUnknownKind is returned for an X-Gitlab-Event value with no handler.
	ErrUnknownKind = errors.New("no handler for event kind")
	// ErrMalformedPayload is returned when a payload can't be decoded or
	// lacks a field its renderer requires.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Kind is the closed set of webhook event kinds the bot handles.
type Kind int

const (
	KindPush Kind = iota + 1
	KindTag
	KindRelease
	KindIssue
	KindConfidentialIssue
	KindNote
	KindConfidentialNote
	KindMergeRequest
	KindJob
	KindWiki
	KindPipeline
)

var kindHeaders = map[Kind]string{
	KindPush:              "Push Hook",
	KindTag:               "Tag Push Hook",
	KindRelease:           "Release Hook",
	KindIssue:             "Issue Hook",
	KindConfidentialIssue: "Confidential Issue Hook",
	KindNote:              "Note Hook",
	KindConfidentialNote:  "Confidential Note Hook",
	KindMergeRequest:      "Merge Request Hook",
	KindJob:               "Job Hook",
	KindWiki:              "Wiki Page Hook",
	KindPipeline:          "Pipeline Hook",
}

var kindsByHeader = func() map[string]Kind {
	m := make(map[string]Kind, len(kindHeaders))
	for k, h := range kindHeaders {
		m[h] = k
	}
	return m
}()

// ParseKind maps an X-Gitlab-Event header value to a Kind.
func ParseKind(header string) (Kind, error) {
	if k, ok := kindsByHeader[header]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, header)
}

// String returns the X-Gitlab-Event header value of the kind.
func (k Kind) String() string {
	if h, ok := kindHeaders[k]; ok {
		return h
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Confidential reports whether the kind is one of the confidential variants.
func (k Kind) Confidential() bool {
	return k == KindConfidentialIssue || k == KindConfidentialNote
}
