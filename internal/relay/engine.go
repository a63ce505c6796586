package relay

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-receptionist-service/internal/agent"
)

var ErrStreamStopped = errors.New("telefon akışı stop çerçevesiyle sonlandı")

// AudioSink, arayan sesinin bir kopyasını alır (opsiyonel kayıt).
type AudioSink interface {
	Write(mulaw []byte) error
}

// Engine, tek bir oturum için iki soket arasında çerçeve pompalar. Her yön kendi
// goroutine'inde çalışır ve hiçbir zaman birden fazla çerçeve tamponlanmaz.
type Engine struct {
	streamSID string
	telephony *LockedConn
	agent     *LockedConn
	sink      AudioSink
	log       zerolog.Logger

	sinkFailed bool
}

func NewEngine(streamSID string, telephony, agentConn Conn, sink AudioSink, log zerolog.Logger) *Engine {
	return &Engine{
		streamSID: streamSID,
		telephony: NewLockedConn(telephony),
		agent:     NewLockedConn(agentConn),
		sink:      sink,
		log:       log,
	}
}

// PumpTelephony, telefon soketini okur ve ses yüklerini ikili çerçeve olarak ajana iletir.
// Stop çerçevesinde ErrStreamStopped, soket hatasında okuma hatası döner.
func (e *Engine) PumpTelephony() error {
	for {
		msgType, data, err := e.telephony.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		frame, err := DecodeTelephony(data)
		if err != nil {
			e.log.Debug().Err(err).Msg("Telefon çerçevesi atlandı.")
			continue
		}

		switch frame.Event {
		case FrameMedia:
			e.forwardCallerAudio(frame)
		case FrameStop:
			return ErrStreamStopped
		case FrameMark:
			if frame.Mark != nil {
				e.log.Debug().Str("mark", frame.Mark.Name).Msg("Oynatma işareti alındı.")
			}
		}
	}
}

func (e *Engine) forwardCallerAudio(frame *TelephonyFrame) {
	audio, err := frame.Audio()
	if err != nil {
		e.log.Debug().Err(err).Msg("Medya yükü çözülemedi, çerçeve atlandı.")
		return
	}
	if e.sink != nil && !e.sinkFailed {
		if err := e.sink.Write(audio); err != nil {
			e.sinkFailed = true
			e.log.Warn().Err(err).Msg("Arayan sesi kaydedilemedi, kayıt bu çağrı için durduruldu.")
		}
	}
	if err := e.agent.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		e.log.Debug().Err(err).Msg("Ses ajana iletilemedi.")
	}
}

// PumpAgent, ajan soketini okur. Ses çerçeveleri telefon soketine aktarılır, diğer olaylar
// handle fonksiyonuna sırayla verilir. Çözülemeyen metin çerçeveleri opak ses olarak iletilir.
func (e *Engine) PumpAgent(handle func(agent.Event)) error {
	for {
		msgType, data, err := e.agent.ReadMessage()
		if err != nil {
			return err
		}
		if msgType == websocket.BinaryMessage {
			e.ForwardAgentAudio(data)
			continue
		}

		ev, err := agent.Decode(data)
		if err != nil {
			e.log.Debug().Err(err).Int("bytes", len(data)).Msg("Ajan çerçevesi çözülemedi, ses olarak iletiliyor.")
			e.ForwardAgentAudio(data)
			continue
		}
		if audio, ok := ev.(agent.Audio); ok {
			e.ForwardAgentAudio(audio.Data)
			continue
		}
		handle(ev)
	}
}

func (e *Engine) ForwardAgentAudio(audio []byte) {
	if len(audio) == 0 {
		return
	}
	frame, err := EncodeMedia(e.streamSID, audio)
	if err != nil {
		return
	}
	if err := e.telephony.WriteMessage(websocket.TextMessage, frame); err != nil {
		e.log.Debug().Err(err).Msg("Ses telefon soketine yazılamadı.")
	}
}

// Clear, telefon tarafında tamponlanmış sentez sesini keser (araya girme).
func (e *Engine) Clear() error {
	frame, err := EncodeClear(e.streamSID)
	if err != nil {
		return err
	}
	return e.telephony.WriteMessage(websocket.TextMessage, frame)
}

// SendAgent, ajana bir JSON metin çerçevesi yazar.
func (e *Engine) SendAgent(payload []byte) error {
	return e.agent.WriteMessage(websocket.TextMessage, payload)
}

// IsClosed, okuma hatasının karşı tarafın bağlantıyı kapatmasından kaynaklanıp kaynaklanmadığını söyler.
func IsClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
