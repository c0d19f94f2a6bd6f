package gateway

import (
	"context"
	"fmt"
	"time"
)

// Employee is one directory entry.
type Employee struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	Department     string `json:"department"`
	Photo          string `json:"photo"`
	Active         bool   `json:"active"`
	JoinDate       string `json:"joinDate"`
	FaceRegistered bool   `json:"faceRegistered"`
}

// Employees lists the employee directory.
func (c *Client) Employees(ctx context.Context) ([]Employee, error) {
	res, err := doGetJSON[struct {
		Employees []Employee `json:"employees"`
	}](ctx, c, "employees")
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return res.Employees, nil
}

// AttendanceLog is one recorded punch.
type AttendanceLog struct {
	ID           ID       `json:"id"`
	EmployeeID   ID       `json:"employee_id"`
	EmployeeName string   `json:"employee_name"`
	Timestamp    string   `json:"timestamp"`
	Confidence   *float64 `json:"confidence"`
	Status       string   `json:"status"`
	EventType    string   `json:"event_type"`
}

// Attendance returns the most recent attendance logs, newest first.
// A non-positive limit uses the backend default.
func (c *Client) Attendance(ctx context.Context, limit int) ([]AttendanceLog, error) {
	endpoint := "attendance"
	if limit > 0 {
		endpoint = fmt.Sprintf("attendance?limit=%d", limit)
	}
	res, err := doGetJSON[struct {
		Attendance []AttendanceLog `json:"attendance"`
	}](ctx, c, endpoint)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return res.Attendance, nil
}

// AttendanceSettings are the backend's punch rules.
type AttendanceSettings struct {
	DuplicatePunchIntervalSec int `json:"duplicatePunchIntervalSec"`
}

// DuplicateInterval is the cooldown between punches, or zero when unset.
func (s *AttendanceSettings) DuplicateInterval() time.Duration {
	if s == nil || s.DuplicatePunchIntervalSec <= 0 {
		return 0
	}
	return time.Duration(s.DuplicatePunchIntervalSec) * time.Second
}

// AttendanceSettings fetches the punch rules.
func (c *Client) AttendanceSettings(ctx context.Context) (*AttendanceSettings, error) {
	res, err := doGetJSON[AttendanceSettings](ctx, c, "system/attendance-settings")
	if err != nil {
		return nil, fmt.Errorf("attendance settings: %w", err)
	}
	return res, nil
}
