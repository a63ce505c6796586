package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/model"
)

var _ Store = (*SQLStore)(nil)

// SQLStore, Store arayüzünü database/sql üzerinden PostgreSQL veya SQLite ile uygular.
// Sorgular "?" yer tutucusuyla yazılır ve PostgreSQL için "$n" biçimine çevrilir.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{
		db:       db,
		postgres: driver == "postgres",
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

const callColumns = `id, external_call_id, kind, caller_number, callee_number, status, telephony_status,
	started_at, ended_at, duration_seconds, caller_name, company, reason, urgency, callback_window,
	promised_actions, sentiment, confidence_score, narrative, used_fallback, transferred, end_reason,
	language, recording_ref, summary_notified, created_at, updated_at`

func (s *SQLStore) EnsureCallRecord(ctx context.Context, in CallInit) (*model.CallRecord, error) {
	if in.ExternalCallID == "" {
		return nil, fmt.Errorf("harici çağrı kimliği boş olamaz")
	}
	kind := in.Kind
	if kind == "" {
		kind = string(constants.CallKindVoice)
	}
	now := s.now()
	started := in.StartedAt
	if started.IsZero() {
		started = now
	}

	_, err := s.exec(ctx, `INSERT INTO calls (id, external_call_id, kind, caller_number, callee_number, status, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_call_id) DO NOTHING`,
		uuid.NewString(), in.ExternalCallID, kind, in.CallerNumber, in.CalleeNumber,
		string(constants.CallStatusInProgress), started.UTC(), now, now)
	if err != nil {
		return nil, fmt.Errorf("çağrı kaydı oluşturulamadı: %w", err)
	}

	rec, err := s.GetCallByExternalID(ctx, in.ExternalCallID)
	if err != nil {
		return nil, err
	}
	// Kayıt numarasız oluşturulmuşsa (ör. akış, intake olayından önce geldiyse) eksik numaraları tamamla.
	if (rec.CallerNumber == "" && in.CallerNumber != "") || (rec.CalleeNumber == "" && in.CalleeNumber != "") {
		_, err = s.exec(ctx, `UPDATE calls SET
			caller_number = CASE WHEN caller_number = '' THEN ? ELSE caller_number END,
			callee_number = CASE WHEN callee_number = '' THEN ? ELSE callee_number END,
			updated_at = ?
			WHERE id = ?`, in.CallerNumber, in.CalleeNumber, now, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("çağrı numaraları güncellenemedi: %w", err)
		}
		return s.GetCall(ctx, rec.ID)
	}
	return rec, nil
}

func (s *SQLStore) GetCall(ctx context.Context, id string) (*model.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+callColumns+` FROM calls WHERE id = ?`), id)
	return scanCall(row)
}

func (s *SQLStore) GetCallByExternalID(ctx context.Context, externalCallID string) (*model.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+callColumns+` FROM calls WHERE external_call_id = ?`), externalCallID)
	return scanCall(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*model.CallRecord, error) {
	var (
		rec            model.CallRecord
		endedAt        sql.NullTime
		callerName     sql.NullString
		company        sql.NullString
		reason         sql.NullString
		urgency        sql.NullString
		callbackWindow sql.NullString
		actions        sql.NullString
		sentiment      sql.NullString
		confidence     sql.NullFloat64
		narrative      sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.ExternalCallID, &rec.Kind, &rec.CallerNumber, &rec.CalleeNumber, &rec.Status,
		&rec.TelephonyStatus, &rec.StartedAt, &endedAt, &rec.DurationSeconds, &callerName, &company, &reason,
		&urgency, &callbackWindow, &actions, &sentiment, &confidence, &narrative, &rec.UsedFallback,
		&rec.Transferred, &rec.EndReason, &rec.Language, &rec.RecordingRef, &rec.SummaryNotified,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("çağrı kaydı okunamadı: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	if urgency.Valid {
		summary := &model.Summary{
			CallerName:      callerName.String,
			Company:         company.String,
			Reason:          reason.String,
			Urgency:         model.Urgency(urgency.String),
			CallbackWindow:  callbackWindow.String,
			Sentiment:       model.Sentiment(sentiment.String),
			ConfidenceScore: confidence.Float64,
			Narrative:       narrative.String,
			PromisedActions: []string{},
		}
		if actions.Valid && actions.String != "" {
			if err := json.Unmarshal([]byte(actions.String), &summary.PromisedActions); err != nil {
				return nil, fmt.Errorf("promised_actions çözümlenemedi: %w", err)
			}
		}
		rec.Summary = summary
	}
	return &rec, nil
}

// FinalizeCall, sonlandırma alanlarını tek bir UPDATE ile yazar.
func (s *SQLStore) FinalizeCall(ctx context.Context, id string, out CallOutcome) error {
	if out.Summary == nil {
		return fmt.Errorf("sonlandırma için özet gerekli")
	}
	sum := out.Summary
	if !sum.Urgency.Valid() {
		return fmt.Errorf("geçersiz aciliyet değeri: %q", sum.Urgency)
	}
	if sum.ConfidenceScore < 0 || sum.ConfidenceScore > 1 {
		return fmt.Errorf("güven skoru [0,1] aralığında olmalı: %v", sum.ConfidenceScore)
	}
	actions := sum.PromisedActions
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("promised_actions serileştirilemedi: %w", err)
	}

	res, err := s.exec(ctx, `UPDATE calls SET
		status = ?, ended_at = ?, duration_seconds = ?,
		caller_name = ?, company = ?, reason = ?, urgency = ?, callback_window = ?,
		promised_actions = ?, sentiment = ?, confidence_score = ?, narrative = ?,
		used_fallback = ?, transferred = ?, end_reason = ?, language = ?, updated_at = ?
		WHERE id = ?`,
		out.Status, out.EndedAt.UTC(), out.DurationSeconds,
		sum.CallerName, sum.Company, sum.Reason, string(sum.Urgency), sum.CallbackWindow,
		string(actionsJSON), string(sum.Sentiment), sum.ConfidenceScore, sum.Narrative,
		out.UsedFallback, out.Transferred, out.EndReason, out.Language, s.now(), id)
	if err != nil {
		return fmt.Errorf("çağrı kaydı sonlandırılamadı: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) SetCallStatus(ctx context.Context, id, status string) error {
	res, err := s.exec(ctx, `UPDATE calls SET status = ?, updated_at = ? WHERE id = ?`, status, s.now(), id)
	if err != nil {
		return fmt.Errorf("çağrı durumu güncellenemedi: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) MarkSummaryNotified(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `UPDATE calls SET summary_notified = ?, updated_at = ? WHERE id = ?`, true, s.now(), id)
	if err != nil {
		return fmt.Errorf("özet bildirimi işaretlenemedi: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) UpdateTelephonyStatus(ctx context.Context, externalCallID, status string, durationSeconds int) error {
	res, err := s.exec(ctx, `UPDATE calls SET telephony_status = ?,
		duration_seconds = CASE WHEN duration_seconds = 0 THEN ? ELSE duration_seconds END,
		updated_at = ? WHERE external_call_id = ?`, status, durationSeconds, s.now(), externalCallID)
	if err != nil {
		return fmt.Errorf("telefon durumu güncellenemedi: %w", err)
	}
	return requireRow(res)
}

// SetRecordingRef, kayıt referansını yalnızca henüz yoksa yazar; yazdıysa true döner.
func (s *SQLStore) SetRecordingRef(ctx context.Context, id, ref string) (bool, error) {
	res, err := s.exec(ctx, `UPDATE calls SET recording_ref = ?, updated_at = ? WHERE id = ? AND recording_ref = ''`, ref, s.now(), id)
	if err != nil {
		return false, fmt.Errorf("kayıt referansı yazılamadı: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) AppendTurn(ctx context.Context, callID string, turn model.TranscriptTurn) error {
	_, err := s.exec(ctx, `INSERT INTO transcript_turns (call_id, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (call_id, seq) DO NOTHING`, callID, turn.Seq, string(turn.Role), turn.Text, s.now())
	if err != nil {
		return fmt.Errorf("transkript turu yazılamadı: %w", err)
	}
	return nil
}

func (s *SQLStore) ListTurns(ctx context.Context, callID string) ([]model.TranscriptTurn, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT seq, role, text FROM transcript_turns WHERE call_id = ? ORDER BY seq`), callID)
	if err != nil {
		return nil, fmt.Errorf("transkript okunamadı: %w", err)
	}
	defer rows.Close()

	var turns []model.TranscriptTurn
	for rows.Next() {
		var t model.TranscriptTurn
		var role string
		if err := rows.Scan(&t.Seq, &role, &t.Text); err != nil {
			return nil, err
		}
		t.Role = model.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLStore) SaveNotification(ctx context.Context, rec *model.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = s.now()
	}
	_, err := s.exec(ctx, `INSERT INTO notifications (id, call_id, kind, channel, recipient, status, provider_message_id, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CallID, rec.Kind, string(rec.Channel), rec.Recipient, string(rec.Status),
		rec.ProviderMessageID, rec.Error, rec.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("bildirim kaydı yazılamadı: %w", err)
	}
	return nil
}

// UpdateNotificationStatus, sağlayıcı mesaj kimliğiyle eşleşen kaydı günceller; eşleşme yoksa false döner.
func (s *SQLStore) UpdateNotificationStatus(ctx context.Context, providerMessageID string, status model.NotificationStatus, errText string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	res, err := s.exec(ctx, `UPDATE notifications SET status = ?, error = ? WHERE provider_message_id = ?`,
		string(status), errText, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("bildirim durumu güncellenemedi: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) ListNotifications(ctx context.Context, callID string) ([]model.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, call_id, kind, channel, recipient, status, provider_message_id, error, sent_at
		FROM notifications WHERE call_id = ? ORDER BY sent_at, id`), callID)
	if err != nil {
		return nil, fmt.Errorf("bildirimler okunamadı: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationRecord
	for rows.Next() {
		var r model.NotificationRecord
		var channel, status string
		if err := rows.Scan(&r.ID, &r.CallID, &r.Kind, &channel, &r.Recipient, &status, &r.ProviderMessageID, &r.Error, &r.SentAt); err != nil {
			return nil, err
		}
		r.Channel = model.Channel(channel)
		r.Status = model.NotificationStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	var c model.Contact
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, phone, name, vip, notes, preferred_language FROM contacts WHERE phone = ?`), phone).
		Scan(&c.ID, &c.Phone, &c.Name, &c.VIP, &c.Notes, &c.PreferredLanguage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kişi okunamadı: %w", err)
	}
	return &c, nil
}

func (s *SQLStore) UpsertContact(ctx context.Context, c *model.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `INSERT INTO contacts (id, phone, name, vip, notes, preferred_language) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (phone) DO UPDATE SET name = excluded.name, vip = excluded.vip, notes = excluded.notes,
		preferred_language = excluded.preferred_language`,
		c.ID, c.Phone, c.Name, c.VIP, c.Notes, c.PreferredLanguage)
	if err != nil {
		return fmt.Errorf("kişi kaydedilemedi: %w", err)
	}
	return nil
}

// RecentCalls, arayanın tamamlanmış önceki çağrılarını en yeniden eskiye döndürür.
func (s *SQLStore) RecentCalls(ctx context.Context, phone, excludeID string, limit int) ([]model.PriorCall, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT started_at, reason, urgency FROM calls
		WHERE caller_number = ? AND id <> ? AND ended_at IS NOT NULL AND urgency IS NOT NULL
		ORDER BY started_at DESC LIMIT ?`), phone, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("önceki çağrılar okunamadı: %w", err)
	}
	defer rows.Close()

	var out []model.PriorCall
	for rows.Next() {
		var p model.PriorCall
		var reason sql.NullString
		var urgency string
		if err := rows.Scan(&p.At, &reason, &urgency); err != nil {
			return nil, err
		}
		p.Reason = reason.String
		p.Urgency = model.Urgency(urgency)
		out = append(out, p)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
