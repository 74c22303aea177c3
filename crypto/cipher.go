// keypears - federated encrypted password vault
// Copyright (C) 2025 keypears
//
// This file is part of keypears.
//
// keypears is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// keypears is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with keypears. If not, see <https://www.gnu.org/licenses/>.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// The authenticated envelope is AES-256-CBC with PKCS#7 padding,
// followed by an HMAC-SHA256 tag over iv||ciphertext. The MAC key is
// derived from the encryption key so callers handle a single 32-byte
// secret.

func macKey(key []byte) []byte {
	return HMACSHA256(key, []byte("keypears.envelope.mac"))
}

// AESCBCEncrypt seals plaintext under key and iv, returning
// ciphertext||mac.
func AESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, ErrInvalidKey
	}
	if len(iv) != IVSize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	tag := HMACSHA256(macKey(key), append(append([]byte{}, iv...), ct...))
	return append(ct, tag...), nil
}

// AESCBCDecrypt verifies the HMAC tag and unpads the plaintext. The tag
// comparison is constant time.
func AESCBCDecrypt(key, iv, sealed []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, ErrInvalidKey
	}
	if len(iv) != IVSize {
		return nil, ErrInvalidKey
	}
	if len(sealed) < MACSize+aes.BlockSize {
		return nil, ErrDecryptionFailed
	}

	ct := sealed[:len(sealed)-MACSize]
	tag := sealed[len(sealed)-MACSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, ErrDecryptionFailed
	}

	want := HMACSHA256(macKey(key), append(append([]byte{}, iv...), ct...))
	if !ConstantTimeEqual(tag, want) {
		return nil, ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)

	return pkcs7Unpad(pt, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrDecryptionFailed
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, ErrDecryptionFailed
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrDecryptionFailed
		}
	}
	return data[:len(data)-pad], nil
}
