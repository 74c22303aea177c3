package admission

import "errors"

var (
	// ErrSignatureInvalid means the signature over the solved hash did
	// not verify under the claimed sender key.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrPowNotConsumed means sendMessage referenced a challenge that
	// was never consumed through the admission pipeline.
	ErrPowNotConsumed = errors.New("pow proof not consumed")

	// Channel-binding refinements checked by sendMessage.
	ErrSenderMismatch       = errors.New("sender address does not match")
	ErrRecipientMismatch    = errors.New("pow proof does not belong to recipient")
	ErrSenderPubKeyMismatch = errors.New("sender public key does not match")

	// ErrRecipientUnknown means the recipient address does not resolve
	// to a local vault.
	ErrRecipientUnknown = errors.New("recipient unknown")

	// ErrReceiveKeyMismatch means the declared recipient engagement
	// key is not the receive key minted for this sender.
	ErrReceiveKeyMismatch = errors.New("recipient engagement key mismatch")
)
