package crypto

import "encoding/json"

// Envelope is the at-rest representation of one encrypted field: a
// per-record DEK wrapped by the keyring's active master key, plus the
// field payload encrypted under that DEK. []byte fields marshal to
// base64 via encoding/json, so an Envelope round-trips through a single
// TEXT column.
type Envelope struct {
	KID           string `json:"kid"`
	DEKNonce      []byte `json:"dek_nonce"`
	DEKCiphertext []byte `json:"dek_ciphertext"`
	DEKTag        []byte `json:"dek_tag"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
	Tag           []byte `json:"tag"`
}

// Seal generates a fresh DEK, wraps it with the keyring's active master
// key, and encrypts plaintext under the DEK. aad (e.g. a record's
// primary key) binds the ciphertext to its row so swapping envelopes
// between rows fails to decrypt.
func Seal(kr *Keyring, plaintext, aad []byte) (Envelope, error) {
	dek, err := GenerateDEK()
	if err != nil {
		return Envelope{}, err
	}

	kid, dekNonce, dekCiphertext, dekTag, err := kr.WrapDEK(dek, aad)
	if err != nil {
		return Envelope{}, err
	}

	nonce, ciphertext, tag, err := EncryptGCM(dek, plaintext, aad)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		KID:           kid,
		DEKNonce:      dekNonce,
		DEKCiphertext: dekCiphertext,
		DEKTag:        dekTag,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Tag:           tag,
	}, nil
}

// Open unwraps env's DEK with the keyring and decrypts its payload.
func Open(kr *Keyring, env Envelope, aad []byte) ([]byte, error) {
	dek, err := kr.UnwrapDEK(env.KID, env.DEKNonce, env.DEKCiphertext, env.DEKTag, aad)
	if err != nil {
		return nil, err
	}
	return DecryptGCM(dek, env.Nonce, env.Ciphertext, env.Tag, aad)
}

// SealString is Seal followed by JSON-marshaling the envelope, for
// storage in a single TEXT column.
func SealString(kr *Keyring, plaintext string, aad []byte) (string, error) {
	env, err := Seal(kr, []byte(plaintext), aad)
	if err != nil {
		return "", err
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

// OpenString is the inverse of SealString.
func OpenString(kr *Keyring, blob string, aad []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return "", err
	}
	plaintext, err := Open(kr, env, aad)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
