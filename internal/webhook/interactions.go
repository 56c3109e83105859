package webhook

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Discord interaction and response types
const (
	InteractionPing      = 1
	InteractionComponent = 3

	ResponsePong    = 1
	ResponseMessage = 4

	// FlagEphemeral shows a response only to the parent who clicked
	FlagEphemeral = 64
)

// Signature headers Discord sends with every interaction
const (
	InteractionSignatureHeader = "X-Signature-Ed25519"
	TimestampHeader            = "X-Signature-Timestamp"
)

// MaxInteractionSkew bounds how old a signed interaction may be
const MaxInteractionSkew = 5 * time.Minute

// Interaction is the part of an inbound Discord interaction we act on
type Interaction struct {
	Type int              `json:"type"`
	Data *InteractionData `json:"data,omitempty"`
}

type InteractionData struct {
	CustomID string `json:"custom_id"`
}

// InteractionResponse answers an interaction
type InteractionResponse struct {
	Type int                 `json:"type"`
	Data *InteractionMessage `json:"data,omitempty"`
}

type InteractionMessage struct {
	Content string `json:"content"`
	Flags   int    `json:"flags,omitempty"`
}

// EphemeralMessage builds a channel message only the clicking parent sees
func EphemeralMessage(format string, args ...interface{}) InteractionResponse {
	return InteractionResponse{
		Type: ResponseMessage,
		Data: &InteractionMessage{Content: fmt.Sprintf(format, args...), Flags: FlagEphemeral},
	}
}

// ParsePublicKey decodes the hex Ed25519 key of a Discord application
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid discord public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid discord public key: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// VerifyInteraction checks the signature over timestamp+body and that the
// timestamp is within MaxInteractionSkew of now
func VerifyInteraction(key ed25519.PublicKey, signature, timestamp string, body []byte, now time.Time) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew > MaxInteractionSkew || skew < -MaxInteractionSkew {
		return false
	}

	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return ed25519.Verify(key, msg, sig)
}

// Button actions carried in component custom ids
const (
	ActionRequest = "request"
	ActionBonus   = "bonus"

	VerbApprove = "approve"
	VerbDeny    = "deny"
)

// ButtonAction is a parsed custom id: request:<id>:approve|deny or
// bonus:<kid id>:<code>
type ButtonAction struct {
	Kind string
	ID   int64
	Arg  string
}

// ParseCustomID decodes a button custom id
func ParseCustomID(customID string) (ButtonAction, error) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 {
		return ButtonAction{}, fmt.Errorf("unsupported custom id %q", customID)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id < 1 {
		return ButtonAction{}, fmt.Errorf("unsupported custom id %q", customID)
	}

	action := ButtonAction{Kind: parts[0], ID: id, Arg: parts[2]}
	switch {
	case action.Kind == ActionRequest && (action.Arg == VerbApprove || action.Arg == VerbDeny):
	case action.Kind == ActionBonus && action.Arg != "":
	default:
		return ButtonAction{}, fmt.Errorf("unsupported custom id %q", customID)
	}
	return action, nil
}

// RequestCustomID builds the custom id of a request decision button
func RequestCustomID(requestID int64, verb string) string {
	return fmt.Sprintf("%s:%d:%s", ActionRequest, requestID, verb)
}
