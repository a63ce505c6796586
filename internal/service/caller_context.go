package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-receptionist-service/internal/model"
)

const (
	callerLookupTimeout = 3 * time.Second
	recentCallLimit     = 3
)

// loadCallerContext, arayanı rehberde ve önceki çağrılarda arar. Hatalar çağrıyı durdurmaz; bulunamayan
// bilgi boş bırakılır.
func (o *Orchestrator) loadCallerContext(ctx context.Context, phone, callID string, l zerolog.Logger) *model.CallerContext {
	if phone == "" {
		return nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, callerLookupTimeout)
	defer cancel()

	cc := &model.CallerContext{}
	contact, err := o.deps.Store.GetContactByPhone(lookupCtx, phone)
	switch {
	case err == nil:
		cc.Contact = contact
		l.Info().Str("contact", contact.Name).Bool("vip", contact.VIP).Msg("Arayan rehberde bulundu.")
	case isNotFound(err):
		l.Debug().Msg("Arayan rehberde yok.")
	default:
		l.Warn().Err(err).Msg("Rehber sorgulanamadı.")
	}

	recent, err := o.deps.Store.RecentCalls(lookupCtx, phone, callID, recentCallLimit)
	if err != nil {
		l.Warn().Err(err).Msg("Önceki çağrılar okunamadı.")
	}
	cc.RecentCalls = recent

	if cc.Contact == nil && len(cc.RecentCalls) == 0 {
		return nil
	}
	return cc
}
