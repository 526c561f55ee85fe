package signer

// Signer answers ADB authentication challenges with a private key. The
// 20-byte token arriving in AUTH(TOKEN) is already a digest; Sign produces a
// signature over it and PublicKey returns the key material offered to the
// device when no signature is accepted.
type Signer interface {
	Sign(token []byte) ([]byte, error)
	PublicKey() []byte
}
