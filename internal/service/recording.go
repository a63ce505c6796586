package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/ctxlogger"
	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/storage"
)

const (
	telephonyStatusCompleted = "completed"
	maxFallbackChecks        = 3
)

// HandleRecordingReady, sağlayıcının kayıt hazır bildirimini işler. İlk referans kazanır; özet zaten
// gönderildiyse yalnızca kayıt bildirimi gider, değilse sonlandırma özetle birleştirir.
func (o *Orchestrator) HandleRecordingReady(ctx context.Context, externalCallID, recordingRef string) error {
	l := ctxlogger.FromContextOr(ctx, o.log).With().Str("external_call_id", externalCallID).Logger()
	if strings.TrimSpace(recordingRef) == "" {
		return errors.New("kayıt referansı boş")
	}
	rec, err := o.deps.Store.GetCallByExternalID(ctx, externalCallID)
	if err != nil {
		return fmt.Errorf("kayıt için çağrı bulunamadı: %w", err)
	}
	l = l.With().Str("call_id", rec.ID).Logger()

	set, err := o.deps.Store.SetRecordingRef(ctx, rec.ID, recordingRef)
	if err != nil {
		return err
	}
	if !set {
		l.Debug().Msg("Çağrının kayıt referansı zaten var, yinelenen bildirim yok sayıldı.")
		return nil
	}

	rec, err = o.deps.Store.GetCall(ctx, rec.ID)
	if err != nil {
		return err
	}
	if !finalizeAttempted(rec) {
		l.Info().Msg("🎧 Kayıt, çağrı sonlanmadan geldi; özetle birlikte gönderilecek.")
		return nil
	}
	if !o.claim(ctx, constants.GuardRecordingNotice+rec.ID, l) {
		l.Debug().Msg("Kayıt bildirimi başka bir yol tarafından gönderildi.")
		return nil
	}

	l.Info().Msg("🎧 Kayıt hazır, yalnızca kayıt bildirimi gönderiliyor.")
	n := noticeFromRecord(rec, nil)
	n.RecordingRef = recordingRef
	return o.deps.Notifier.SendRecordingOnly(ctx, n)
}

// HandleStatusUpdate, sağlayıcının çağrı durumu bildirimini kaydeder. "completed" durumunda kayıt
// hiç gelmezse son çare bildirimini gönderecek zamanlayıcıyı kurar.
func (o *Orchestrator) HandleStatusUpdate(ctx context.Context, externalCallID, status string, durationSeconds int) error {
	status = strings.ToLower(strings.TrimSpace(status))
	if err := o.deps.Store.UpdateTelephonyStatus(ctx, externalCallID, status, durationSeconds); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			l := ctxlogger.FromContextOr(ctx, o.log)
			l.Warn().Str("external_call_id", externalCallID).Msg("Durum bildirimi bilinmeyen bir çağrı için geldi.")
			return nil
		}
		return err
	}
	if status == telephonyStatusCompleted {
		o.armRecordingFallback(externalCallID, 1)
	}
	return nil
}

func (o *Orchestrator) armRecordingFallback(externalCallID string, attempt int) {
	o.fallbackMu.Lock()
	defer o.fallbackMu.Unlock()
	if attempt == 1 {
		if _, exists := o.fallbackTimers[externalCallID]; exists {
			return
		}
	}
	o.fallbackTimers[externalCallID] = time.AfterFunc(o.opts.RecordingFallbackDelay, func() {
		o.tracker.Go(func() { o.checkRecordingFallback(externalCallID, attempt) })
	})
}

func (o *Orchestrator) clearFallback(externalCallID string) {
	o.fallbackMu.Lock()
	delete(o.fallbackTimers, externalCallID)
	o.fallbackMu.Unlock()
}

// checkRecordingFallback, bekleme süresi dolduğunda kayıt hâlâ yoksa yalnızca-özet bildirimini gönderir.
func (o *Orchestrator) checkRecordingFallback(externalCallID string, attempt int) {
	l := o.log.With().Str("external_call_id", externalCallID).Int("attempt", attempt).Logger()
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	rec, err := o.deps.Store.GetCallByExternalID(ctx, externalCallID)
	if err != nil {
		l.Error().Err(err).Msg("Kayıt yedek kontrolü için çağrı okunamadı.")
		o.clearFallback(externalCallID)
		return
	}
	if rec.RecordingRef != "" {
		o.clearFallback(externalCallID)
		return
	}

	_, live := o.registry.FindByExternalCallID(externalCallID)
	if live || !finalizeAttempted(rec) {
		if attempt < maxFallbackChecks {
			l.Debug().Msg("Çağrı henüz sonlanmadı, yedek kontrol erteleniyor.")
			o.armRecordingFallback(externalCallID, attempt+1)
			return
		}
		l.Warn().Msg("Çağrı sonlanmadığı için yalnızca-özet bildirimi gönderilmedi.")
		o.clearFallback(externalCallID)
		return
	}
	o.clearFallback(externalCallID)

	if !o.claim(ctx, constants.GuardRecordingNotice+rec.ID, l) {
		return
	}
	turns, err := o.deps.Store.ListTurns(ctx, rec.ID)
	if err != nil {
		l.Warn().Err(err).Msg("Transkript okunamadı, bildirim transkriptsiz gidecek.")
	}
	l.Info().Msg("Kayıt gelmedi, yalnızca-özet bildirimi gönderiliyor.")
	if err := o.deps.Notifier.SendSummaryOnly(ctx, noticeFromRecord(rec, turns)); err != nil {
		l.Error().Err(err).Msg("❌ Yalnızca-özet bildirimi gönderilemedi.")
	}
}

// finalizeAttempted, sonlandırma rutininin çalıştığını söyler. Kalıcılık hatasında ended_at yazılmamış
// olabilir; bu durumda çağrı 'failed' olarak işaretlenir ve yine sonlanmış sayılır.
func finalizeAttempted(rec *model.CallRecord) bool {
	return rec.Finalized() || rec.Status == string(constants.CallStatusFailed)
}
