package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Archiver keeps a copy of rendered reports. *cloud.S3Client implements it.
type Archiver interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error
}

// Service renders reports and emails them.
type Service struct {
	sender  EmailSender
	archive Archiver
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService creates a Service. archive may be nil.
func NewService(sender EmailSender, archive Archiver, logger zerolog.Logger) *Service {
	return &Service{sender: sender, archive: archive, logger: logger, now: time.Now}
}

// DeliverPDF renders the pro forma PDF, archives it under id when an
// archive is configured, and emails it to recipient. An archive failure is
// logged and does not block delivery.
func (s *Service) DeliverPDF(ctx context.Context, recipient, id string, r Report) error {
	if recipient == "" {
		return ErrNoRecipient
	}
	pdf, err := RenderPDF(r)
	if err != nil {
		return err
	}

	if s.archive != nil {
		key := ArchiveKey(s.now(), id)
		if err := s.archive.UploadBytes(ctx, key, pdf, "application/pdf"); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("archiving report failed")
		} else {
			s.logger.Info().Str("key", key).Msg("report archived")
		}
	}

	err = s.sender.Send(ctx, Message{
		To:      recipient,
		Subject: PDFSubject,
		Body:    PDFBody,
		Attachments: []Attachment{{
			Filename:    PDFFilename,
			ContentType: "application/pdf",
			Data:        pdf,
		}},
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("calc_id", id).Int("providers", len(r.Providers)).Msg("pro forma report sent")
	return nil
}

// DeliverSummary emails the HTML summary to recipient.
func (s *Service) DeliverSummary(ctx context.Context, recipient string, r Report) error {
	if recipient == "" {
		return ErrNoRecipient
	}
	body, err := RenderSummaryHTML(r)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, Message{
		To:      recipient,
		Subject: SummarySubject,
		Body:    body,
		HTML:    true,
	}); err != nil {
		return err
	}
	s.logger.Info().Int("providers", len(r.Providers)).Msg("summary report sent")
	return nil
}

// ArchiveKey is the object key for an archived report.
func ArchiveKey(t time.Time, id string) string {
	return fmt.Sprintf("reports/%s/%s.pdf", t.UTC().Format("2006/01/02"), id)
}
