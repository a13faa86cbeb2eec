package domain

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// IndexDefinition is an index document exactly as the source listed it.
type IndexDefinition = bson.Raw

type CollectionSnapshot struct {
	Database     string
	Collection   string
	Count        int64
	Written      int64
	Indexes      []IndexDefinition
	MetadataPath string
	DumpPath     string
}

func (s CollectionSnapshot) Namespace() string {
	return s.Database + "." + s.Collection
}

type Archive struct {
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Severity tells the pipeline whether an error may be swallowed.
type Severity int

const (
	Fatal Severity = iota
	Ignorable
)

func (s Severity) String() string {
	switch s {
	case Ignorable:
		return "ignorable"
	default:
		return "fatal"
	}
}

// Event is broadcast to every notification channel when a run aborts.
type Event struct {
	Label string
	Err   error
}

// Text renders the error with its stack trace when one was recorded.
func (e Event) Text() string {
	if e.Err == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.Err)
}
