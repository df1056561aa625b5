package headcam

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

// Signalling message types spoken by the head unit's webrtcsink server.
const (
	msgWelcome        = "welcome"
	msgList           = "list"
	msgStartSession   = "startSession"
	msgSessionStarted = "sessionStarted"
	msgPeer           = "peer"
	msgEndSession     = "endSession"
)

// signalMessage is the envelope for every signalling exchange. Fields are
// populated per message type.
type signalMessage struct {
	Type      string         `json:"type"`
	PeerID    string         `json:"peerId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Producers []producerInfo `json:"producers,omitempty"`
	SDP       *sdpPayload    `json:"sdp,omitempty"`
	ICE       *icePayload    `json:"ice,omitempty"`
}

type producerInfo struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// writeSignal sends one signalling message. gorilla/websocket permits a
// single concurrent writer, so all sends funnel through here.
func (r *Receiver) writeSignal(msg *signalMessage) error {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	return r.ws.WriteJSON(msg)
}

// waitForWelcome reads the server's hello and records our peer ID.
func (r *Receiver) waitForWelcome() error {
	r.ws.SetReadDeadline(time.Now().Add(r.config.HandshakeTimeout))
	defer r.ws.SetReadDeadline(time.Time{})

	var msg signalMessage
	if err := r.ws.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Type != msgWelcome {
		return fmt.Errorf("expected welcome, got %q", msg.Type)
	}
	r.peerID = msg.PeerID
	return nil
}

// findProducer asks for the producer list and picks out the head unit.
func (r *Receiver) findProducer() error {
	if err := r.writeSignal(&signalMessage{Type: msgList}); err != nil {
		return err
	}

	r.ws.SetReadDeadline(time.Now().Add(r.config.HandshakeTimeout))
	defer r.ws.SetReadDeadline(time.Time{})

	var msg signalMessage
	if err := r.ws.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Type != msgList {
		return fmt.Errorf("expected list, got %q", msg.Type)
	}

	for _, p := range msg.Producers {
		if p.Meta["name"] == r.config.Producer {
			r.producerID = p.ID
			return nil
		}
	}
	return fmt.Errorf("producer %q not among %d announced", r.config.Producer, len(msg.Producers))
}

// startSession asks the server to pair us with the producer.
func (r *Receiver) startSession() error {
	return r.writeSignal(&signalMessage{Type: msgStartSession, PeerID: r.producerID})
}

// signalLoop handles the session's SDP and ICE exchange until the socket
// drops or the session ends.
func (r *Receiver) signalLoop() {
	defer r.markDisconnected()

	for {
		var msg signalMessage
		if err := r.ws.ReadJSON(&msg); err != nil {
			if !r.isClosed() {
				r.logger.Warn("signalling read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case msgSessionStarted:
			r.setSessionID(msg.SessionID)

		case msgPeer:
			r.handlePeer(&msg)

		case msgEndSession:
			r.logger.Info("session ended by head unit")
			return
		}
	}
}

// handlePeer applies a remote SDP offer or ICE candidate.
func (r *Receiver) handlePeer(msg *signalMessage) {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  msg.SDP.SDP,
		}
		if err := r.pc.SetRemoteDescription(offer); err != nil {
			r.logger.Error("set remote description failed", "error", err)
			return
		}

		answer, err := r.pc.CreateAnswer(nil)
		if err != nil {
			r.logger.Error("create answer failed", "error", err)
			return
		}
		if err := r.pc.SetLocalDescription(answer); err != nil {
			r.logger.Error("set local description failed", "error", err)
			return
		}

		if err := r.writeSignal(&signalMessage{
			Type:      msgPeer,
			SessionID: r.session(),
			SDP:       &sdpPayload{Type: answer.Type.String(), SDP: answer.SDP},
		}); err != nil {
			r.logger.Error("send answer failed", "error", err)
		}
	}

	if msg.ICE != nil {
		init := webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		}
		if err := r.pc.AddICECandidate(init); err != nil {
			r.logger.Warn("add ICE candidate failed", "error", err)
		}
	}
}

// sendICECandidate forwards a local candidate to the head unit.
func (r *Receiver) sendICECandidate(candidate *webrtc.ICECandidate) {
	sessionID := r.session()
	if sessionID == "" {
		return
	}

	init := candidate.ToJSON()
	err := r.writeSignal(&signalMessage{
		Type:      msgPeer,
		SessionID: sessionID,
		ICE: &icePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		},
	})
	if err != nil {
		r.logger.Warn("send ICE candidate failed", "error", err)
	}
}
