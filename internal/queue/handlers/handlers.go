// Package handlers provides the built-in sample job handlers registered by
// default so a freshly started worker has something to do out of the box.
// Each is a mock that sleeps briefly and returns a structured result; none
// talk to a real external system.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/imrahulmane/job-queue/internal/queue"
)

const (
	TypeEmail  = "emails"
	TypeReport = "report_generation"
	TypeImage  = "images_processing"
)

// Register adds all built-in handlers to reg.
func Register(reg *queue.Registry) {
	reg.Register(TypeEmail, Email)
	reg.Register(TypeReport, Report)
	reg.Register(TypeImage, Image)
}

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Email mocks sending an email.
func Email(ctx context.Context, payload json.RawMessage) (map[string]any, error) {
	var p emailPayload
	_ = json.Unmarshal(payload, &p)
	if p.To == "" {
		p.To = "unknown@example.com"
	}
	if p.Subject == "" {
		p.Subject = "No subject"
	}

	slog.DebugContext(ctx, "email handler started", "to", p.To, "subject", p.Subject)

	if err := sleep(ctx, 3*time.Second); err != nil {
		return nil, err
	}

	result := map[string]any{
		"status":  "sent",
		"to":      p.To,
		"subject": p.Subject,
		"message": "email sent successfully (mock)",
	}
	slog.InfoContext(ctx, "email sent successfully", "to", p.To)
	return result, nil
}

type reportPayload struct {
	ReportType string `json:"report_type"`
	ReportID   any    `json:"report_id"`
}

// Report mocks generating a report.
func Report(ctx context.Context, payload json.RawMessage) (map[string]any, error) {
	var p reportPayload
	_ = json.Unmarshal(payload, &p)
	if p.ReportType == "" {
		p.ReportType = "unknown"
	}
	if p.ReportID == nil {
		p.ReportID = "unknown"
	}

	slog.DebugContext(ctx, "report generation started", "report_type", p.ReportType)

	if err := sleep(ctx, 3600*time.Millisecond); err != nil {
		return nil, err
	}

	result := map[string]any{
		"status":      "generated",
		"report_type": p.ReportType,
		"report_id":   p.ReportID,
		"file_path":   fmt.Sprintf("/tmp/report_%v.pdf", p.ReportID),
		"message":     "report generated successfully (mock)",
	}
	slog.InfoContext(ctx, "report generated successfully", "report_type", p.ReportType)
	return result, nil
}

type imagePayload struct {
	ImageURL   string   `json:"image_url"`
	ImageID    any      `json:"image_id"`
	Operations []string `json:"operations"`
}

// Image mocks image processing.
func Image(ctx context.Context, payload json.RawMessage) (map[string]any, error) {
	var p imagePayload
	_ = json.Unmarshal(payload, &p)
	if p.ImageURL == "" {
		p.ImageURL = "unknown"
	}
	if p.ImageID == nil {
		p.ImageID = "unknown"
	}

	slog.DebugContext(ctx, "image processing started", "image_url", p.ImageURL)

	if err := sleep(ctx, 3500*time.Millisecond); err != nil {
		return nil, err
	}

	result := map[string]any{
		"status":      "processed",
		"image_url":   p.ImageURL,
		"image_id":    p.ImageID,
		"operations":  p.Operations,
		"output_path": fmt.Sprintf("/tmp/processed_%v.jpg", p.ImageID),
		"message":     "image processed successfully (mock)",
	}
	slog.InfoContext(ctx, "image processed successfully", "image_id", p.ImageID)
	return result, nil
}

// sleep blocks for d or returns ctx.Err() if ctx is cancelled first, so a
// worker shutdown doesn't have to wait out a mock handler's full delay.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
