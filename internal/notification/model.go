// Package notification carries overwrite requests between faculty members and
// resolves them.
package notification

import (
	"errors"

	"attendance-portal/internal/attendance"
)

// Type is the kind of notification.
type Type string

const (
	TypeOverwriteRequest Type = "OVERWRITE_REQUEST"
	TypeRequestApproved  Type = "REQUEST_APPROVED"
	TypeRequestDenied    Type = "REQUEST_DENIED"
)

// Status is where a notification sits in its lifecycle.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRead     Status = "READ"
	StatusActioned Status = "ACTIONED"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
)

// Resolved reports whether an overwrite request has already been acted on.
func (s Status) Resolved() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusActioned
}

// Decision is the owner's answer to an overwrite request.
type Decision string

const (
	Approve Decision = "APPROVE"
	Deny    Decision = "DENY"
)

func (d Decision) status() Status {
	if d == Approve {
		return StatusApproved
	}
	return StatusDenied
}

var (
	ErrNotFound       = errors.New("notification not found")
	ErrForbidden      = errors.New("notification belongs to another user")
	ErrNotActionable  = errors.New("notification cannot be approved or denied")
	ErrTargetNotFound = errors.New("target user not found")
	ErrValidation     = errors.New("invalid notification request")
	ErrBusy           = errors.New("notification is being resolved")
)

// Data is the JSON payload of a notification. AttendanceRecords is only set
// on overwrite requests and is committed verbatim on approval.
type Data struct {
	Date              string              `json:"date"`
	Slot              int                 `json:"slot"`
	SubjectID         string              `json:"subjectId,omitempty"`
	SubjectName       string              `json:"subjectName"`
	BranchID          string              `json:"branchId"`
	Reason            string              `json:"reason,omitempty"`
	RequestID         string              `json:"requestId,omitempty"`
	AttendanceRecords []attendance.Record `json:"attendanceRecords,omitempty"`
}

// OverwriteKey is the slot an approval clears.
func (d Data) OverwriteKey() attendance.OverwriteKey {
	return attendance.OverwriteKey{Date: d.Date, BranchID: d.BranchID, Slot: d.Slot}
}

// Notification is a message addressed to one user.
type Notification struct {
	ID           string `json:"id"`
	ToUserID     string `json:"toUserId"`
	FromUserID   string `json:"fromUserId"`
	FromUserName string `json:"fromUserName"`
	Type         Type   `json:"type"`
	Status       Status `json:"status"`
	Data         Data   `json:"data"`
	Timestamp    int64  `json:"timestamp"`
}
