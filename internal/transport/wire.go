// Package transport implements the Framed Transport: length-prefixed
// message framing over a duplex byte stream, with optional per-direction
// AEAD sealing for the post-handshake endpoint channel.
package transport

import "errors"

// Kind identifies the payload carried by a frame.
type Kind byte

const (
	KindSignalingRequest Kind = iota + 1
	KindSignalingResponse
	KindSignalingPush
	KindEndpointControl
	KindEndpointVideo
	KindEndpointAudio
	KindEndpointInput
)

func (k Kind) String() string {
	switch k {
	case KindSignalingRequest:
		return "signaling_request"
	case KindSignalingResponse:
		return "signaling_response"
	case KindSignalingPush:
		return "signaling_push"
	case KindEndpointControl:
		return "endpoint_control"
	case KindEndpointVideo:
		return "endpoint_video"
	case KindEndpointAudio:
		return "endpoint_audio"
	case KindEndpointInput:
		return "endpoint_input"
	default:
		return "unknown"
	}
}

const (
	// MaxFrameLength bounds length (kind + payload, or kind + ciphertext
	// + tag once sealing is active). Larger incoming frames close the
	// connection.
	MaxFrameLength = 16 * 1024 * 1024

	// lengthPrefixSize is the size in bytes of the u32 BE length field.
	lengthPrefixSize = 4
	// kindSize is the size in bytes of the kind byte.
	kindSize = 1

	// outboundQueueDepth is the max number of frames queued on the
	// write-half before Send reports backpressure.
	outboundQueueDepth = 128
)

var (
	// ErrTransportClosed is returned by Send/Recv once the transport has
	// been closed, locally or by the peer.
	ErrTransportClosed = errors.New("transport: closed")
	// ErrBackpressureExceeded is returned by Send when the outbound
	// queue is already at capacity.
	ErrBackpressureExceeded = errors.New("transport: outbound queue full")
	// ErrFrameTooLarge is returned by Recv when the peer declares a
	// frame length exceeding MaxFrameLength.
	ErrFrameTooLarge = errors.New("transport: frame exceeds maximum length")
	// ErrIntegrity is returned by Recv when AEAD authentication fails.
	// It is always fatal: the caller must terminate the session.
	ErrIntegrity = errors.New("transport: AEAD integrity check failed")
)
