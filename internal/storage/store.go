// Package storage, çağrı kayıtları, transkript turları, bildirimler ve rehber için kalıcılık katmanıdır.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sentiric/sentiric-receptionist-service/internal/model"
)

var ErrNotFound = errors.New("kayıt bulunamadı")

// CallInit, yeni bir çağrı kaydının başlangıç alanlarıdır.
type CallInit struct {
	ExternalCallID string
	Kind           string
	CallerNumber   string
	CalleeNumber   string
	StartedAt      time.Time
}

// CallOutcome, sonlandırmada yazılan alanlardır. Summary nil olamaz.
type CallOutcome struct {
	Status          string
	EndedAt         time.Time
	DurationSeconds int
	Summary         *model.Summary
	UsedFallback    bool
	Transferred     bool
	EndReason       string
	Language        string
}

type Store interface {
	EnsureCallRecord(ctx context.Context, in CallInit) (*model.CallRecord, error)
	GetCall(ctx context.Context, id string) (*model.CallRecord, error)
	GetCallByExternalID(ctx context.Context, externalCallID string) (*model.CallRecord, error)
	FinalizeCall(ctx context.Context, id string, out CallOutcome) error
	SetCallStatus(ctx context.Context, id, status string) error
	MarkSummaryNotified(ctx context.Context, id string) error
	UpdateTelephonyStatus(ctx context.Context, externalCallID, status string, durationSeconds int) error
	SetRecordingRef(ctx context.Context, id, ref string) (bool, error)

	AppendTurn(ctx context.Context, callID string, turn model.TranscriptTurn) error
	ListTurns(ctx context.Context, callID string) ([]model.TranscriptTurn, error)

	SaveNotification(ctx context.Context, rec *model.NotificationRecord) error
	UpdateNotificationStatus(ctx context.Context, providerMessageID string, status model.NotificationStatus, errText string) (bool, error)
	ListNotifications(ctx context.Context, callID string) ([]model.NotificationRecord, error)

	GetContactByPhone(ctx context.Context, phone string) (*model.Contact, error)
	UpsertContact(ctx context.Context, c *model.Contact) error
	RecentCalls(ctx context.Context, phone, excludeID string, limit int) ([]model.PriorCall, error)
}
