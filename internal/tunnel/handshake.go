package tunnel

import (
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"cell/internal/wire"
)

// Session is an established tunnel: independent send/receive AEAD states
// plus the peer's revealed long-term public key.
type Session struct {
	send         *symmetricState
	recv         *symmetricState
	RemoteStatic [32]byte
}

// maxPlaintext and maxCiphertext bound a single transport frame, per the
// encrypted-tunnel size contract.
const (
	maxPlaintext  = 65519
	maxCiphertext = 65535
)

// Initiate runs the XX handshake as the initiator over rw, authenticating
// with staticPriv/staticPub, and returns the resulting Session.
//
// Message flow:
//
//	-> e
//	<- e, ee, s, es
//	-> s, se
func Initiate(rw io.ReadWriter, staticPriv, staticPub [32]byte) (*Session, error) {
	ss := newSymmetricState()

	ePriv, ePub, err := generateEphemeral()
	if err != nil {
		return nil, err
	}

	// -> e
	msg1, err := ss.encryptAndHash(ePub[:])
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(rw, msg1); err != nil {
		return nil, err
	}

	// <- e, ee, s, es
	msg2, err := readHandshakeMsg(rw)
	if err != nil {
		return nil, err
	}
	if len(msg2) < 32 {
		return nil, fmt.Errorf("tunnel: handshake message 2 too short")
	}
	var theirEphemeral [32]byte
	copy(theirEphemeral[:], msg2[:32])
	ss.mixHash(theirEphemeral[:])

	sharedEE, err := dh(ePriv, theirEphemeral)
	if err != nil {
		return nil, err
	}
	ss.mixKey(sharedEE[:])

	// The rest of msg2 is the responder's static key, encrypted (32-byte
	// key plus a 16-byte AEAD tag).
	theirStaticBytes, err := ss.decryptAndHash(msg2[32:])
	if err != nil {
		return nil, err
	}
	var theirStatic [32]byte
	copy(theirStatic[:], theirStaticBytes)

	sharedES, err := dh(ePriv, theirStatic)
	if err != nil {
		return nil, err
	}
	ss.mixKey(sharedES[:])

	// -> s, se
	encryptedOwnStatic, err := ss.encryptAndHash(staticPub[:])
	if err != nil {
		return nil, err
	}
	sharedSE, err := dh(staticPriv, theirEphemeral)
	if err != nil {
		return nil, err
	}
	ss.mixKey(sharedSE[:])

	if err := writeHandshakeMsg(rw, encryptedOwnStatic); err != nil {
		return nil, err
	}

	send, recv := split(ss)
	return &Session{send: send, recv: recv, RemoteStatic: theirStatic}, nil
}

// Respond runs the XX handshake as the responder over rw.
func Respond(rw io.ReadWriter, staticPriv, staticPub [32]byte) (*Session, error) {
	ss := newSymmetricState()

	// -> e
	msg1, err := readHandshakeMsg(rw)
	if err != nil {
		return nil, err
	}
	theirEphemeralBytes, err := ss.decryptAndHash(msg1)
	if err != nil {
		return nil, err
	}
	var theirEphemeral [32]byte
	copy(theirEphemeral[:], theirEphemeralBytes)

	ePriv, ePub, err := generateEphemeral()
	if err != nil {
		return nil, err
	}
	ss.mixHash(ePub[:])

	sharedEE, err := dh(ePriv, theirEphemeral)
	if err != nil {
		return nil, err
	}
	ss.mixKey(sharedEE[:])

	encryptedOwnStatic, err := ss.encryptAndHash(staticPub[:])
	if err != nil {
		return nil, err
	}

	sharedES, err := dh(staticPriv, theirEphemeral)
	if err != nil {
		return nil, err
	}
	ss.mixKey(sharedES[:])

	msg2 := append(append([]byte{}, ePub[:]...), encryptedOwnStatic...)
	if err := writeHandshakeMsg(rw, msg2); err != nil {
		return nil, err
	}

	// <- s, se
	msg3, err := readHandshakeMsg(rw)
	if err != nil {
		return nil, err
	}
	theirStaticBytes, err := ss.decryptAndHash(msg3)
	if err != nil {
		return nil, err
	}
	var theirStatic [32]byte
	copy(theirStatic[:], theirStaticBytes)

	sharedSE, err := dh(ePriv, theirStatic)
	if err != nil {
		return nil, err
	}
	ss.mixKey(sharedSE[:])

	// Responder's send/recv are the mirror of the initiator's.
	recv, send := split(ss)
	return &Session{send: send, recv: recv, RemoteStatic: theirStatic}, nil
}

// split derives the two independent per-direction transport states from
// the final chaining key, so the initiator's send state is the
// responder's recv state and vice versa.
func split(ss *symmetricState) (a, b *symmetricState) {
	out := make([]byte, 64)
	r := hkdf.New(newBlake2s, nil, ss.ck[:], nil)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("tunnel: hkdf split failed: %v", err))
	}

	a = &symmetricState{hasKey: true}
	copy(a.key[:], out[:32])
	b = &symmetricState{hasKey: true}
	copy(b.key[:], out[32:])
	return a, b
}

// Seal encrypts plaintext for the wire using this session's send state,
// writing a length-prefixed frame to w.
func (s *Session) Seal(w io.Writer, plaintext []byte) error {
	if len(plaintext) > maxPlaintext {
		return fmt.Errorf("tunnel: plaintext exceeds %d bytes", maxPlaintext)
	}
	ciphertext, err := s.send.encryptAndHash(plaintext)
	if err != nil {
		return err
	}
	if len(ciphertext) > maxCiphertext {
		return fmt.Errorf("tunnel: ciphertext exceeds %d bytes", maxCiphertext)
	}
	return wire.WriteFrame(w, ciphertext)
}

// Open reads one length-prefixed ciphertext frame from r and decrypts it
// with this session's recv state.
func (s *Session) Open(r io.Reader) ([]byte, error) {
	ciphertext, err := wire.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return s.recv.decryptAndHash(ciphertext)
}

func writeHandshakeMsg(w io.Writer, msg []byte) error {
	return wire.WriteFrame(w, msg)
}

func readHandshakeMsg(r io.Reader) ([]byte, error) {
	return wire.ReadFrame(r)
}
