package models

import (
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryLost  Category = "lost"
	CategoryFound Category = "found"
)

func (c Category) Valid() bool {
	return c == CategoryLost || c == CategoryFound
}

// ParseCategory accepts "lost" or "found" in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusResolved
}

// Report is a lost or found item submission. ID is assigned by the document
// store and is not part of the stored body.
type Report struct {
	ID          string    `bson:"-" json:"id"`
	Name        string    `bson:"name" json:"name"`
	Description string    `bson:"description" json:"description"`
	Location    string    `bson:"location" json:"location"`
	Contact     string    `bson:"contact" json:"contact"`
	Category    Category  `bson:"category" json:"category"`
	ReportBy    string    `bson:"report_by" json:"report_by"`
	Status      Status    `bson:"status" json:"status"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

func (r Report) Resolved() bool {
	return r.Status == StatusResolved
}

const (
	EventReportCreated  = "report.created"
	EventReportResolved = "report.resolved"
)

// ReportEvent is published to the broker whenever a report changes state.
type ReportEvent struct {
	Type      string    `json:"type"`
	ReportID  string    `json:"report_id"`
	Name      string    `json:"name"`
	Category  Category  `json:"category,omitempty"`
	Location  string    `json:"location,omitempty"`
	ReportBy  string    `json:"report_by,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func NewReportEvent(eventType string, r Report) ReportEvent {
	return ReportEvent{
		Type:      eventType,
		ReportID:  r.ID,
		Name:      r.Name,
		Category:  r.Category,
		Location:  r.Location,
		ReportBy:  r.ReportBy,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
}
