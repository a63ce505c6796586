// streamclient, servisin medya akışı uç noktasına sahte bir telefon çağrısı oynatır.
package main

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sentiric/sentiric-receptionist-service/internal/relay"
)

const (
	frameInterval = 20 * time.Millisecond
	frameBytes    = 160 // 20ms @ 8kHz mu-law
	mulawSilence  = 0xFF
)

func main() {
	_ = godotenv.Load("./.env")
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	var (
		url      string
		from     string
		to       string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "streamclient",
		Short: "Sahte telefon medya akışı gönderir ve ajandan gelen çerçeveleri yazdırır",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log, url, from, to, duration)
		},
	}
	defaultURL := os.Getenv("STREAM_URL")
	if defaultURL == "" {
		defaultURL = "ws://localhost:8080/media-stream"
	}
	cmd.Flags().StringVar(&url, "url", defaultURL, "medya akışı WebSocket adresi")
	cmd.Flags().StringVar(&from, "from", "+15550100000", "arayan numara")
	cmd.Flags().StringVar(&to, "to", "+15550199999", "aranan numara")
	cmd.Flags().DurationVar(&duration, "duration", 15*time.Second, "akış süresi")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(log zerolog.Logger, url, from, to string, duration time.Duration) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info().Str("url", url).Msg("✅ Medya akışına bağlanıldı.")

	streamSID := "MZ" + uuid.NewString()
	callSID := "CA" + uuid.NewString()

	send := func(f relay.TelephonyFrame) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if err := send(relay.TelephonyFrame{Event: relay.FrameConnected}); err != nil {
		return err
	}
	if err := send(relay.TelephonyFrame{
		Event:     relay.FrameStart,
		StreamSID: streamSID,
		Start: &relay.StartPayload{
			StreamSID:        streamSID,
			CallSID:          callSID,
			CustomParameters: map[string]string{"from": from, "to": to},
		},
	}); err != nil {
		return err
	}
	log.Info().Str("call_sid", callSID).Str("stream_sid", streamSID).Msg("📞 Çağrı başlatıldı.")

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := relay.DecodeTelephony(data)
			if err != nil {
				log.Warn().Err(err).Msg("Çözümlenemeyen çerçeve.")
				continue
			}
			ev := log.Info().Str("event", f.Event)
			if f.Media != nil {
				ev = ev.Int("payload_len", len(f.Media.Payload))
			}
			ev.Msg("⬅️ Çerçeve alındı")
		}
	}()

	silence := make([]byte, frameBytes)
	for i := range silence {
		silence[i] = mulawSilence
	}
	payload := base64.StdEncoding.EncodeToString(silence)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	deadline := time.After(duration)

loop:
	for {
		select {
		case <-ticker.C:
			if err := send(relay.TelephonyFrame{Event: relay.FrameMedia, StreamSID: streamSID, Media: &relay.MediaPayload{Track: "inbound", Payload: payload}}); err != nil {
				return err
			}
		case <-deadline:
			break loop
		case <-sig:
			break loop
		}
	}

	if err := send(relay.TelephonyFrame{Event: relay.FrameStop, StreamSID: streamSID}); err != nil {
		return err
	}
	log.Info().Msg("🛑 Akış durduruldu.")
	time.Sleep(500 * time.Millisecond)
	return nil
}
